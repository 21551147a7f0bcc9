package types

import "encoding/json"

// Part represents a component of a message.
type Part interface {
	PartType() string
	PartID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID   string   `json:"id"`
	Type string   `json:"type"` // always "text"
	Text string   `json:"text"`
	Time PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() string { return "text" }
func (p *TextPart) PartID() string   { return p.ID }

// ToolPart represents a tool call and its result.
type ToolPart struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"` // always "tool"
	ToolName string         `json:"toolName"`
	Input    map[string]any `json:"input,omitempty"`
	State    string         `json:"state"` // "pending" | "running" | "completed" | "error"
	Output   *string        `json:"output,omitempty"`
	Error    *string        `json:"error,omitempty"`
	Time     PartTime       `json:"time,omitempty"`
}

func (p *ToolPart) PartType() string { return "tool" }
func (p *ToolPart) PartID() string   { return p.ID }

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string { return "file" }
func (p *FilePart) PartID() string   { return p.ID }

// UnmarshalPart unmarshals a JSON part into the appropriate type.
// Unknown types decode as TextPart so viewers degrade gracefully.
func UnmarshalPart(data []byte) (Part, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
