package gemini

import (
	"testing"
)

func TestParseReply_Clean(t *testing.T) {
	box, desc, err := ParseReply(`{"bbox": [100, 200, 800, 900], "description": "gold ring with ruby"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if box.YMin != 100 || box.XMin != 200 || box.YMax != 800 || box.XMax != 900 {
		t.Errorf("unexpected box %+v", box)
	}
	if desc != "gold ring with ruby" {
		t.Errorf("unexpected description %q", desc)
	}
}

func TestParseReply_MarkdownFenced(t *testing.T) {
	reply := "```json\n{\"bbox\": [0, 0, 1000, 1000], \"description\": \"silver chain\"}\n```"

	box, desc, err := ParseReply(reply)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !box.Valid() {
		t.Errorf("expected valid full-frame box, got %+v", box)
	}
	if desc != "silver chain" {
		t.Errorf("unexpected description %q", desc)
	}
}

func TestParseReply_ProseAroundJSON(t *testing.T) {
	reply := `Here is what I found: {"bbox": [10, 20, 30, 40], "description": "stud earrings"} Hope that helps!`

	if _, desc, err := ParseReply(reply); err != nil || desc != "stud earrings" {
		t.Errorf("expected parse despite prose, got desc=%q err=%v", desc, err)
	}
}

func TestParseReply_Invalid(t *testing.T) {
	for _, reply := range []string{
		"",
		"I could not detect any jewelry.",
		`{"bbox": [1, 2, 3], "description": "short box"}`,
		`{"description": "no box at all"}`,
	} {
		if _, _, err := ParseReply(reply); err == nil {
			t.Errorf("expected error for %q", reply)
		}
	}
}
