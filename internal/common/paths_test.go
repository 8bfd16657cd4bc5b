package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVirtualPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "/"},
		{"dot", ".", "/"},
		{"root", "/", "/"},
		{"double_root", "//", "/"},
		{"simple", "foo", "/foo"},
		{"already_rooted", "/foo", "/foo"},
		{"trailing_slash", "foo/", "/foo"},
		{"nested", "foo/bar/baz", "/foo/bar/baz"},
		{"synthetic", "data", "/data"},
		{"dotdot_kept", "../foo", "/../foo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, VirtualPath(tt.input), "VirtualPath(%q)", tt.input)
		})
	}
}

func TestJoinVirtual(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/a", JoinVirtual("/", "a"))
	assert.Equal(t, "/a", JoinVirtual("", "a"))
	assert.Equal(t, "/sub/a", JoinVirtual("/sub", "a"))
	assert.Equal(t, "/sub/deep/a", JoinVirtual("/sub/deep", "a"))
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"/", ""},
		{".", ""},
		{"foo", "foo"},
		{"/foo", "foo"},
		{"/foo/bar", "bar"},
		{"foo/bar/", "bar"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseName(tt.input), "BaseName(%q)", tt.input)
	}
}
