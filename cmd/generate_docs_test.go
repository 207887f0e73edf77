package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendar-mcp/internal/codec"
)

func TestGenerateToolsMarkdown(t *testing.T) {
	tools, err := registeredTools()
	require.NoError(t, err)

	markdown := generateToolsMarkdown(tools)

	readIdx := strings.Index(markdown, "## Read Tools")
	writeIdx := strings.Index(markdown, "## Write Tools")
	require.True(t, readIdx >= 0 && writeIdx > readIdx, "expected read then write sections")

	assert.Contains(t, markdown[readIdx:writeIdx], "### calendar_list_events")
	assert.Contains(t, markdown[writeIdx:], "### calendar_create_event")
	assert.Contains(t, markdown[writeIdx:], "### calendar_delete_event")
	assert.Contains(t, markdown[readIdx:writeIdx], "### google_auth_status")
	assert.Contains(t, markdown, "- `eventId` (string, required)")
	assert.Contains(t, markdown, "- `eventIds` (string, required)")
}

func TestKeygenCmd(t *testing.T) {
	cmd := newKeygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	key, err := codec.KeyFromBase64(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, key, codec.KeySize)
}

func TestVersionCmd(t *testing.T) {
	SetVersion("v1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "calendar-mcp version v1.2.3\n", out.String())
}
