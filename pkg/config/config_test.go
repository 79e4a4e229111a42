package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[storage]
password = deltacloud
numOfReplica = 3
deviceCnt = 2
devicePrx = sdc
partPower = 10

[timeout]
ssh = 30
copy = 120

[log]
dir = /var/log/deltaSwift
name = fleet.log
level = debug
json = true

[report]
dir = /tmp/reports

[paths]
metadata = /tmp/meta
lock = /tmp/swift.lock

[propagate]
apply = swiftfleet apply-metadata --conf-dir "/etc/swift"
bootstrap = false
`

func TestLoadBytes_Full(t *testing.T) {
	p, err := LoadBytes([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "root", p.User)
	assert.Equal(t, "deltacloud", p.Password)
	assert.Equal(t, 3, p.NumOfReplica)
	assert.Equal(t, 2, p.DeviceCnt)
	assert.Equal(t, "sdc", p.DevicePrx)
	assert.Equal(t, 10, p.PartPower)
	assert.Equal(t, 30*time.Second, p.SSHTimeout)
	assert.Equal(t, 120*time.Second, p.CopyTimeout)
	assert.Equal(t, DefaultDeployTimeout, p.DeployTimeout)
	assert.Equal(t, "/var/log/deltaSwift/fleet.log", p.LogFile())
	assert.Equal(t, "debug", p.LogLevel)
	assert.True(t, p.LogJSON)
	assert.Equal(t, "/tmp/reports", p.ReportDir)
	assert.Equal(t, "/tmp/meta", p.MetadataDir)
	assert.Equal(t, DefaultConfDir, p.ConfDir)
	assert.Equal(t, "/tmp/swift.lock", p.LockFile)
	assert.Equal(t, []string{"swiftfleet", "apply-metadata", "--conf-dir", "/etc/swift"}, p.ApplyCommand)
	assert.False(t, p.Bootstrap)
}

func TestLoadBytes_Defaults(t *testing.T) {
	p, err := LoadBytes([]byte(`
[storage]
password = secret
numOfReplica = 1
deviceCnt = 5
[log]
dir = /var/log
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultDevicePrefix, p.DevicePrx)
	assert.Equal(t, DefaultPartPower, p.PartPower)
	assert.Equal(t, DefaultZoneMax, p.ZoneMax)
	assert.Equal(t, DefaultSSHTimeout, p.SSHTimeout)
	assert.Equal(t, DefaultLockFile, p.LockFile)
	assert.Equal(t, DefaultLogName, p.LogName)
	assert.Nil(t, p.ApplyCommand)
	assert.True(t, p.Bootstrap)
}

func TestLoadBytes_MissingKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		section string
		key     string
	}{
		{
			name:    "no password",
			content: "[storage]\nnumOfReplica = 3\ndeviceCnt = 2\n[log]\ndir = /var/log\n",
			section: "storage",
			key:     "password",
		},
		{
			name:    "no replica count",
			content: "[storage]\npassword = x\ndeviceCnt = 2\n[log]\ndir = /var/log\n",
			section: "storage",
			key:     "numOfReplica",
		},
		{
			name:    "no log section",
			content: "[storage]\npassword = x\nnumOfReplica = 3\ndeviceCnt = 2\n",
			section: "log",
			key:     "dir",
		},
		{
			name:    "empty file",
			content: "",
			section: "storage",
			key:     "password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingKey))

			var mk *MissingKeyError
			require.True(t, errors.As(err, &mk))
			assert.Equal(t, tt.section, mk.Section)
			assert.Equal(t, tt.key, mk.Key)
		})
	}
}

func TestLoadBytes_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"replica not a number", "[storage]\npassword = x\nnumOfReplica = three\ndeviceCnt = 2\n[log]\ndir = /l\n"},
		{"zero replicas", "[storage]\npassword = x\nnumOfReplica = 0\ndeviceCnt = 2\n[log]\ndir = /l\n"},
		{"negative timeout", "[storage]\npassword = x\nnumOfReplica = 1\ndeviceCnt = 2\n[log]\ndir = /l\n[timeout]\nssh = -4\n"},
		{"part power too large", "[storage]\npassword = x\nnumOfReplica = 1\ndeviceCnt = 2\npartPower = 40\n[log]\ndir = /l\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.content))
			var iv *InvalidValueError
			assert.True(t, errors.As(err, &iv), "expected InvalidValueError, got %v", err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Swift.ini")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, p.NumOfReplica)

	_, err = Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}
