package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
)

func TestParseXMLSingleCall(t *testing.T) {
	parsed, err := ParseXML(`<search><q>golang</q><limit>5</limit></search>`)
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 1)
	assert.False(t, parsed.IsFinal)

	call := parsed.ToolCalls[0]
	assert.Equal(t, "search", call.ToolName)
	assert.NotEmpty(t, call.ToolCallID)
	assert.Equal(t, map[string]any{"q": "golang", "limit": "5"}, call.Input)
}

func TestParseXMLSiblings(t *testing.T) {
	parsed, err := ParseXML(`<a><x>1</x></a><b><y>2</y></b>`)
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 2)
	assert.Equal(t, "a", parsed.ToolCalls[0].ToolName)
	assert.Equal(t, "b", parsed.ToolCalls[1].ToolName)
}

func TestParseXMLFinal(t *testing.T) {
	parsed, err := ParseXML(`<final><message>all done</message></final>`)
	require.NoError(t, err)
	assert.True(t, parsed.IsFinal)
	assert.Equal(t, "all done", parsed.Final)
	assert.Empty(t, parsed.ToolCalls)
}

func TestParseXMLFenced(t *testing.T) {
	text := "Here is my plan:\n```xml\n<lookup><key>abc</key></lookup>\n```\nDone."
	parsed, err := ParseXML(text)
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 1)
	assert.Equal(t, "lookup", parsed.ToolCalls[0].ToolName)
}

func TestParseXMLParametersJSON(t *testing.T) {
	parsed, err := ParseXML(`<search><parameters>{"q":"golang","limit":5}</parameters></search>`)
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 1)
	assert.Equal(t, map[string]any{"q": "golang", "limit": float64(5)}, parsed.ToolCalls[0].Input)
}

func TestParseXMLNoArgs(t *testing.T) {
	parsed, err := ParseXML(`<refresh></refresh>`)
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 1)
	assert.Equal(t, "refresh", parsed.ToolCalls[0].ToolName)
	assert.Equal(t, map[string]any{}, parsed.ToolCalls[0].Input)
}

func TestParseXMLProseOnlyFails(t *testing.T) {
	_, err := ParseXML("I could not decide on a tool to use.")
	require.Error(t, err)
	assert.Equal(t, distrierr.Planning, distrierr.KindOf(err))
}

func TestParseXMLUnclosedTagSkipped(t *testing.T) {
	parsed, err := ParseXML(`<broken><q>x</q><valid><p>1</p></valid>`)
	require.NoError(t, err)
	// <broken> never closes; the scanner recovers and still finds <q> (as a
	// top-level element) and <valid>.
	var names []string
	for _, c := range parsed.ToolCalls {
		names = append(names, c.ToolName)
	}
	assert.Contains(t, names, "valid")
}

func TestParseJSONL(t *testing.T) {
	text := "```tool_calls\n" +
		`{"name":"search","arguments":{"q":"x"}}` + "\n" +
		"\n" +
		`{"name":"fetch","arguments":{"url":"http://e.com"}}` + "\n" +
		"```"
	parsed, err := ParseJSONL(text)
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 2)
	assert.Equal(t, "search", parsed.ToolCalls[0].ToolName)
	assert.Equal(t, map[string]any{"q": "x"}, parsed.ToolCalls[0].Input)
	assert.Equal(t, "fetch", parsed.ToolCalls[1].ToolName)
}

func TestParseJSONLFinal(t *testing.T) {
	parsed, err := ParseJSONL(`{"name":"final","arguments":{"message":"bye"}}`)
	require.NoError(t, err)
	assert.True(t, parsed.IsFinal)
	assert.Equal(t, "bye", parsed.Final)
}

func TestParseJSONLBadLine(t *testing.T) {
	_, err := ParseJSONL("{not json}")
	require.Error(t, err)
	assert.Equal(t, distrierr.Planning, distrierr.KindOf(err))
}

func TestXMLRoundTripIdentity(t *testing.T) {
	original, err := ParseXML(`<deploy><service>api</service><region>eu-west-1</region></deploy>`)
	require.NoError(t, err)
	require.Len(t, original.ToolCalls, 1)

	rendered := RenderXML(original.ToolCalls[0])
	reparsed, err := ParseXML(rendered)
	require.NoError(t, err)
	require.Len(t, reparsed.ToolCalls, 1)

	assert.Equal(t, original.ToolCalls[0].ToolName, reparsed.ToolCalls[0].ToolName)
	assert.Equal(t, original.ToolCalls[0].Input, reparsed.ToolCalls[0].Input)
}

