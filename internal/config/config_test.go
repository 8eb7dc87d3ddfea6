package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const iniConfig = `[Global]
tmp_dir = /tmp/imaging
out_dir = /tmp/images/
rserver = radmind.example.edu
persist_fail = yes

[Lab]
cert = /etc/certs/lab.pem
volume = Lab $VERSION ($BUILD)

[Classroom]
cert = /etc/certs/classroom.pem
volume = Classroom
sparse = /tmp/imaging/Classroom.sparseimage
`

const tomlConfig = `[Global]
tmp_dir = "/tmp/imaging"
out_dir = "/tmp/images/"
rserver = "radmind.example.edu"
persist_fail = true

[Lab]
cert = "/etc/certs/lab.pem"
volume = "Lab $VERSION ($BUILD)"

[Classroom]
cert = "/etc/certs/classroom.pem"
volume = "Classroom"
sparse = "/tmp/imaging/Classroom.sparseimage"
`

const yamlConfig = `Global:
  tmp_dir: /tmp/imaging
  out_dir: /tmp/images/
  rserver: radmind.example.edu
  persist_fail: true
Lab:
  cert: /etc/certs/lab.pem
  volume: Lab $VERSION ($BUILD)
Classroom:
  cert: /etc/certs/classroom.pem
  volume: Classroom
  sparse: /tmp/imaging/Classroom.sparseimage
`

func TestLoadFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"ini", "automagic.conf", iniConfig},
		{"toml", "automagic.toml", tomlConfig},
		{"yaml", "automagic.yaml", yamlConfig},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			file, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, "/tmp/imaging", file.Global.TempDir)
			assert.Equal(t, "/tmp/images/", file.Global.OutputDir)
			assert.Equal(t, "radmind.example.edu", file.Global.SyncServer)
			assert.Nil(t, file.Global.PersistImages)
			require.NotNil(t, file.Global.PersistFailedImages)
			assert.True(t, *file.Global.PersistFailedImages)

			require.Len(t, file.Images, 2)
			assert.Equal(t, ImageSpec{
				Name:            "Lab",
				VolumeLabel:     "Lab $VERSION ($BUILD)",
				CertificatePath: "/etc/certs/lab.pem",
			}, file.Images[0])
			assert.Equal(t, "Classroom", file.Images[1].Name)
			assert.Equal(t, "/tmp/imaging/Classroom.sparseimage", file.Images[1].StartingImage)
		})
	}
}

func TestLoadKeepsSectionOrder(t *testing.T) {
	t.Parallel()

	content := "[Global]\ntmp_dir = /a\nout_dir = /b\nrserver = r\n" +
		"[Zulu]\ncert = z\nvolume = Z\n" +
		"[Alpha]\ncert = a\nvolume = A\n" +
		"[Mike]\ncert = m\nvolume = M\n"

	for _, name := range []string{"order.ini", "order.toml"} {
		body := content
		if filepath.Ext(name) == ".toml" {
			body = "[Global]\ntmp_dir = \"/a\"\nout_dir = \"/b\"\nrserver = \"r\"\n" +
				"[Zulu]\ncert = \"z\"\nvolume = \"Z\"\n" +
				"[Alpha]\ncert = \"a\"\nvolume = \"A\"\n" +
				"[Mike]\ncert = \"m\"\nvolume = \"M\"\n"
		}
		file, err := Load(writeFile(t, name, body))
		require.NoError(t, err, name)

		var names []string
		for _, img := range file.Images {
			names = append(names, img.Name)
		}
		assert.Equal(t, []string{"Zulu", "Alpha", "Mike"}, names, name)
	}
}

func TestLoadGlobalExtras(t *testing.T) {
	t.Parallel()

	file, err := Load(writeFile(t, "extras.ini", "[Global]\ntmp_dir = /a\nout_dir = /b\nrserver = r\n"+
		"persist = off\nimage_size = 50g\nport = 6662\nauth_level = 1\nformat = UDRO\n"+
		"[Lab]\ncert = c\nvolume = V\n"))
	require.NoError(t, err)

	require.NotNil(t, file.Global.PersistImages)
	assert.False(t, *file.Global.PersistImages)
	assert.Equal(t, "50g", file.Global.ImageSize)
	assert.Equal(t, 6662, file.Global.RadmindPort)
	assert.Equal(t, 1, file.Global.RadmindAuthLevel)
	assert.Equal(t, "UDRO", file.Global.ConvertFormat)
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		problem string
	}{
		{
			name:    "single section",
			content: "[Global]\ntmp_dir = /a\nout_dir = /b\nrserver = r\n",
			problem: "at least a 'Global' section",
		},
		{
			name:    "no global",
			content: "[Lab]\ncert = c\nvolume = V\n[Other]\ncert = c\nvolume = V\n",
			problem: "must have a 'Global' section",
		},
		{
			name:    "missing rserver",
			content: "[Global]\ntmp_dir = /a\nout_dir = /b\n[Lab]\ncert = c\nvolume = V\n",
			problem: `[Global] is missing "rserver"`,
		},
		{
			name:    "missing cert",
			content: "[Global]\ntmp_dir = /a\nout_dir = /b\nrserver = r\n[Lab]\nvolume = V\n",
			problem: `[Lab] is missing "cert"`,
		},
		{
			name:    "unknown key",
			content: "[Global]\ntmp_dir = /a\nout_dir = /b\nrserver = r\nverbose = 1\n[Lab]\ncert = c\nvolume = V\n",
			problem: `[Global] has unknown key "verbose"`,
		},
		{
			name:    "bad boolean",
			content: "[Global]\ntmp_dir = /a\nout_dir = /b\nrserver = r\npersist = maybe\n[Lab]\ncert = c\nvolume = V\n",
			problem: "not a boolean",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeFile(t, "bad.ini", tt.content))
			require.ErrorIs(t, err, ErrInvalid)

			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Error(), tt.problem)
		})
	}
}

func TestLoadYAMLRejectsNestedValues(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "nested.yml", "Global:\n  tmp_dir: [a, b]\nLab:\n  cert: c\n  volume: V\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a scalar")
}

func TestMergePrecedence(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	file := Overrides{TempDir: "/file/tmp", OutputDir: "/file/out", SyncServer: "file-server", PersistImages: &yes, RadmindPort: 6662}
	cli := Overrides{SyncServer: "cli-server", PersistImages: &no}

	got := Merge(Defaults(), file, cli)

	assert.Equal(t, "/file/tmp", got.TempDir)
	assert.Equal(t, "/file/out", got.OutputDir)
	assert.Equal(t, "cli-server", got.SyncServer)
	assert.False(t, got.PersistImages)
	assert.Equal(t, 6662, got.RadmindPort)
	assert.Equal(t, DefaultRadmindAuthLevel, got.RadmindAuthLevel)
	assert.Equal(t, DefaultImageSize, got.ImageSize)
	assert.Equal(t, DefaultConvertFormat, got.ConvertFormat)
}

func TestRunSettingsResolve(t *testing.T) {
	t.Parallel()

	tmp, out := t.TempDir(), t.TempDir()
	settings := Defaults()
	settings.TempDir = tmp + "/"
	settings.OutputDir = out
	settings.SyncServer = "radmind.example.edu"

	resolved, err := settings.Resolve()
	require.NoError(t, err)
	assert.Equal(t, tmp, resolved.TempDir)
	assert.Equal(t, out, resolved.OutputDir)
	assert.True(t, filepath.IsAbs(resolved.TempDir))
}

func TestRunSettingsResolveReportsEveryProblem(t *testing.T) {
	t.Parallel()

	settings := Defaults()
	settings.TempDir = filepath.Join(t.TempDir(), "missing")

	_, err := settings.Resolve()
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Len(t, validation.Problems, 3)
	assert.Contains(t, validation.Error(), "invalid temporary directory")
	assert.Contains(t, validation.Error(), "no output directory given")
	assert.Contains(t, validation.Error(), "no radmind server given")
}

func TestImageSpecResolve(t *testing.T) {
	t.Parallel()

	cert := writeFile(t, "lab.pem", "cert")

	resolved, err := ImageSpec{Name: "Lab", VolumeLabel: "Lab", CertificatePath: cert, StartingImage: "Lab.sparseimage"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, cert, resolved.CertificatePath)
	assert.True(t, filepath.IsAbs(resolved.StartingImage))

	_, err = ImageSpec{Name: "Lab", VolumeLabel: "Lab", CertificatePath: filepath.Dir(cert)}.Resolve()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "invalid certificate")

	_, err = ImageSpec{Name: "Lab", CertificatePath: cert}.Resolve()
	assert.ErrorContains(t, err, "no bootable volume name given")
}

func TestSubstituteLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Install 10.9.2 (13C64)", SubstituteLabel("Install $VERSION ($BUILD)", "10.9.2", "13C64"))
	assert.Equal(t, "Lab", SubstituteLabel("Lab", "10.9.2", "13C64"))
	assert.Equal(t, "10.9.2-10.9.2", SubstituteLabel("$VERSION-$VERSION", "10.9.2", "13C64"))
}

func TestSelect(t *testing.T) {
	t.Parallel()

	images := []ImageSpec{{Name: "Lab"}, {Name: "Classroom"}}

	got, err := Select(images, "Classroom")
	require.NoError(t, err)
	assert.Equal(t, []ImageSpec{{Name: "Classroom"}}, got)

	_, err = Select(images, "Kiosk")
	assert.ErrorContains(t, err, `"Kiosk" is not configured`)
}
