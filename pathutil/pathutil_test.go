package pathutil_test

import (
	"testing"

	"github.com/cozy/cozyfuse/pathutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"//", ""},
		{"/home//user/", "/home/user"},
		{"home/user", "/home/user"},
		{"/A/B/C", "/A/B/C"},
		{"///A///B///", "/A/B"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, pathutil.Normalize(c.in), "Normalize(%q)", c.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, p := range []string{"", "/", "/a/b/c", "a//b///c/", "/A"} {
		once := pathutil.Normalize(p)
		twice := pathutil.Normalize(once)
		assert.Equal(t, once, twice)
	}
}

func TestSplit(t *testing.T) {
	parent, name := pathutil.Split("/A/test_doc.txt")
	assert.Equal(t, "/A", parent)
	assert.Equal(t, "test_doc.txt", name)

	parent, name = pathutil.Split("/file_test.txt")
	assert.Equal(t, pathutil.Root, parent)
	assert.Equal(t, "file_test.txt", name)

	parent, name = pathutil.Split("/")
	assert.Equal(t, pathutil.Root, parent)
	assert.Equal(t, "", name)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/A/test_doc.txt", pathutil.Join("/A", "test_doc.txt"))
	assert.Equal(t, "/test_doc.txt", pathutil.Join(pathutil.Root, "test_doc.txt"))
	assert.Equal(t, "/test_doc.txt", pathutil.Join("/", "test_doc.txt"))
}

func TestIsRoot(t *testing.T) {
	assert.True(t, pathutil.IsRoot(""))
	assert.True(t, pathutil.IsRoot("/"))
	assert.True(t, pathutil.IsRoot("///"))
	assert.False(t, pathutil.IsRoot("/A"))
}
