// Wire-grammar parsers for the two LLM tool-call formats:
// XML (`<tool_name><param>value</param></tool_name>`, optionally fenced in
// ```xml, with a top-level `<final><message>...</message></final>`
// signalling termination) and JSONL (one `{"name":...,"arguments":{...}}`
// object per line inside a ```tool_calls fence).
package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/message"
)

// ParsedCalls is the result of parsing one LLM completion's tool-call
// content: zero or more tool calls, and optionally the final answer text
// when a terminal `final` call was embedded directly as plain content
// rather than routed through the final tool (CoT's "terminal answer").
type ParsedCalls struct {
	ToolCalls []*message.ToolCall
	Final     string
	IsFinal   bool
}

var fencedBlock = regexp.MustCompile("(?s)```(?:xml|tool_calls)?\\s*\\n?(.*?)```")

// stripFence returns the content of the first fenced block found in text,
// or text itself if no fence is present. Models fence inconsistently, so
// fencing is optional on input.
func stripFence(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

var xmlOpenTag = regexp.MustCompile(`<([a-zA-Z_][\w-]*)>`)

// ParseXML parses the XML tool-call grammar. Siblings at the top level are
// each one tool call, except a top-level <final> element, which signals
// termination with its <message> child as the final text.
//
// Elements are scanned by matching each open tag to its own close tag, not
// with a single regex: Go's RE2 has no backreferences, and a lazy `</...>`
// match would close <tool><param>v</param></tool> at </param>.
func ParseXML(text string) (ParsedCalls, error) {
	body := stripFence(text)

	var out ParsedCalls
	for _, el := range scanElements(body) {
		if el.name == "final" {
			out.Final = strings.TrimSpace(childText(el.inner, "message"))
			out.IsFinal = true
			continue
		}
		out.ToolCalls = append(out.ToolCalls, message.NewToolCall(el.name, parseXMLArgs(el.inner)))
	}

	if len(out.ToolCalls) == 0 && !out.IsFinal {
		return out, distrierr.New(distrierr.Planning, "no tool calls or final answer found in xml completion")
	}
	return out, nil
}

type xmlElement struct {
	name  string
	inner string
}

// scanElements walks body left to right, pairing each open tag with the
// first matching close tag for the same name. Unclosed tags are skipped
// rather than failing the whole completion.
func scanElements(body string) []xmlElement {
	var elements []xmlElement
	rest := body
	for {
		m := xmlOpenTag.FindStringSubmatchIndex(rest)
		if m == nil {
			break
		}
		name := rest[m[2]:m[3]]
		after := rest[m[1]:]
		closeTag := "</" + name + ">"
		end := strings.Index(after, closeTag)
		if end < 0 {
			rest = after
			continue
		}
		elements = append(elements, xmlElement{name: name, inner: after[:end]})
		rest = after[end+len(closeTag):]
	}
	return elements
}

// childText returns the inner text of the first child element called name.
func childText(body, name string) string {
	for _, el := range scanElements(body) {
		if el.name == name {
			return el.inner
		}
	}
	return ""
}

// parseXMLArgs converts an element's children to an arguments map. A single
// <parameters> child carrying a JSON object is unwrapped; otherwise each
// child element becomes one string-valued argument.
func parseXMLArgs(inner string) map[string]any {
	children := scanElements(inner)

	if len(children) == 1 && children[0].name == "parameters" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(children[0].inner)), &parsed); err == nil {
			return parsed
		}
	}

	args := make(map[string]any)
	for _, c := range children {
		args[c.name] = strings.TrimSpace(c.inner)
	}
	return args
}

// jsonlCall is the wire shape of one JSONL tool-call line.
type jsonlCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseJSONL parses the JSONL tool-call grammar: one JSON object per
// non-empty line inside a ```tool_calls fence.
func ParseJSONL(text string) (ParsedCalls, error) {
	body := stripFence(text)

	var out ParsedCalls
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var call jsonlCall
		if err := json.Unmarshal([]byte(line), &call); err != nil {
			return out, distrierr.Wrap(distrierr.Planning, err, "parse jsonl tool-call line")
		}

		if call.Name == "final" {
			if msg, ok := call.Arguments["message"].(string); ok {
				out.Final = msg
			}
			out.IsFinal = true
			continue
		}
		out.ToolCalls = append(out.ToolCalls, message.NewToolCall(call.Name, call.Arguments))
	}

	if len(out.ToolCalls) == 0 && !out.IsFinal {
		return out, distrierr.New(distrierr.Planning, "no tool calls or final answer found in jsonl completion")
	}
	return out, nil
}

// RenderXML is the inverse of ParseXML for a single tool call: parsing the
// rendered form yields the same tool name and arguments.
func RenderXML(tc *message.ToolCall) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(tc.ToolName)
	b.WriteString(">")
	if args, ok := tc.Input.(map[string]any); ok {
		for _, v := range args {
			if _, isString := v.(string); !isString {
				// Non-string values would come back as text from child
				// elements; a lone <parameters> JSON child keeps their types.
				b.WriteString("<parameters>")
				b.WriteString(toStringValue(args))
				b.WriteString("</parameters></")
				b.WriteString(tc.ToolName)
				b.WriteString(">")
				return b.String()
			}
		}
		for k, v := range args {
			b.WriteString("<")
			b.WriteString(k)
			b.WriteString(">")
			b.WriteString(toStringValue(v))
			b.WriteString("</")
			b.WriteString(k)
			b.WriteString(">")
		}
	}
	b.WriteString("</")
	b.WriteString(tc.ToolName)
	b.WriteString(">")
	return b.String()
}

func toStringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
