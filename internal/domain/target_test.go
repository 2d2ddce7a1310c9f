package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"full url with www", "http://WWW.Example.com/path", "example.com"},
		{"https without www", "https://example.com", "example.com"},
		{"port is dropped", "https://www.youtube.com:443/watch?v=1", "youtube.com"},
		{"bare domain", "YouTube.com", "youtube.com"},
		{"bare www domain falls back to raw", "WWW.YouTube.com", "www.youtube.com"},
		{"malformed falls back to lower-cased raw", "%zz Not A URL", "%zz not a url"},
		{"only www prefix stripped once", "https://www.www.example.com", "www.example.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomain(tt.input))
		})
	}
}

func TestNormalizeDomain_Idempotent(t *testing.T) {
	inputs := []string{
		"http://WWW.Example.com/path",
		"https://example.com",
		"youtube.com",
		"www.youtube.com",
		"https://www.www.example.com",
		"%zz Not A URL",
		"mailto:someone@example.com",
		"http://[::1]:8080/",
		"",
	}

	for _, in := range inputs {
		once := NormalizeDomain(in)
		assert.Equal(t, once, NormalizeDomain(once), "input %q", in)
	}

	assert.Equal(t, NormalizeDomain("http://WWW.Example.com/path"), NormalizeDomain("https://example.com"))
}

func TestWebsiteKey(t *testing.T) {
	assert.Equal(t, "youtube.com", WebsiteKey("YouTube.com"))
	assert.Equal(t, "youtube.com", WebsiteKey("www.youtube.com"))
	assert.Equal(t, "youtube.com", WebsiteKey("https://www.youtube.com/watch?v=1"))
	assert.Equal(t, "", WebsiteKey("   "))

	key := WebsiteKey("www.Reddit.com/r/golang")
	assert.Equal(t, key, WebsiteKey(key))
}

func TestProcessNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{`C:\Windows\System32\Notepad.exe`, "notepad"},
		{"/usr/bin/firefox", "firefox"},
		{"/Applications/Steam.app", "steam"},
		{"notepad.exe", "notepad"},
		{".exe", ".exe"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ProcessNameFromPath(tt.path))
		})
	}
}

func TestNormalizeProcessName_MatchesPathResolution(t *testing.T) {
	assert.Equal(t, ProcessNameFromPath(`c:\games\Dota2.EXE`), NormalizeProcessName("dota2.exe"))
	assert.Equal(t, "dota2", NormalizeProcessName("Dota2"))
}

func TestIsWebsiteLimit(t *testing.T) {
	assert.True(t, IsWebsiteLimit(Limit{Key: "youtube.com", IsWebsite: true}))
	assert.True(t, IsWebsiteLimit(Limit{Key: "https://youtube.com"}))
	assert.False(t, IsWebsiteLimit(Limit{Key: `c:\windows\notepad.exe`}))
	assert.False(t, IsWebsiteLimit(Limit{Key: "/usr/bin/firefox"}))
}

func TestLimit_Validate(t *testing.T) {
	require.NoError(t, Limit{Key: "a", WarningDuration: time.Second}.Validate())
	assert.ErrorIs(t, Limit{}.Validate(), ErrInvalidLimit)
	assert.ErrorIs(t, Limit{Key: "a", KillDuration: -time.Second}.Validate(), ErrInvalidLimit)
}

func TestUsage_IsZero(t *testing.T) {
	assert.True(t, Usage{}.IsZero())
	assert.False(t, Usage{KillUsage: time.Second}.IsZero())
}
