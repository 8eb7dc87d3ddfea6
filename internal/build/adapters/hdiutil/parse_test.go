package hdiutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCreated(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/private/tmp/lab.sparseimage", parseCreated("created: /private/tmp/lab.sparseimage\n"))
	assert.Equal(t, "/tmp/a b.sparseimage", parseCreated("....\ncreated: /tmp/a b.sparseimage"))
	assert.Empty(t, parseCreated("hdiutil: create failed - error -5341\n"))
}

func TestParseAttached(t *testing.T) {
	t.Parallel()

	out := "/dev/disk3          \tGUID_partition_scheme          \t\n" +
		"/dev/disk3s1        \tEFI                            \t\n" +
		"/dev/disk3s2        \tApple_HFS                      \t/Volumes/Mac OS X\n"
	assert.Equal(t, "/dev/disk3s2", parseAttached(out))
	assert.Empty(t, parseAttached("/dev/disk3 \tGUID_partition_scheme \t\n"))
	assert.Empty(t, parseAttached(""))
}

func TestParseMountTable(t *testing.T) {
	t.Parallel()

	table := "/dev/disk1s1 on / (apfs, local, journaled)\n" +
		"/dev/disk2s10 on /Volumes/Other (hfs, local)\n" +
		"/dev/disk2s1 on /Volumes/Install 10.9.2 (13C64) (hfs, local, nodev, nosuid, journaled, noowners)\n"

	tests := []struct {
		disk string
		want string
	}{
		{"/dev/disk2s1", "/Volumes/Install 10.9.2 (13C64)"},
		{"/dev/disk2s10", "/Volumes/Other"},
		{"/dev/disk1s1", "/"},
		{"/dev/disk9s1", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseMountTable(table, tt.disk), tt.disk)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		wantBase  string
		wantLevel int
		wantErr   bool
	}{
		{"UDZO", "UDZO", 0, false},
		{"UDZO-9", "UDZO", 9, false},
		{"UDRO", "UDRO", 0, false},
		{"Rdxx", "Rdxx", 0, false},
		{"UDRO-9", "", 0, true},
		{"UDZO-0", "", 0, true},
		{"UDZO-x", "", 0, true},
		{"udzo", "", 0, true},
		{"NOT-A-FORMAT", "", 0, true},
	}
	for _, tt := range tests {
		base, level, err := parseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.wantBase, base, tt.in)
		assert.Equal(t, tt.wantLevel, level, tt.in)
	}
}
