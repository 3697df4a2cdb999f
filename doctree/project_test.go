package doctree

import "testing"

func TestProjectIdempotent(t *testing.T) {
	tree := &OrganizedData{Root: &Header{
		Level: 0,
		Children: []Node{
			&Header{Level: 1, Text: "Title", Children: []Node{
				&Text{Content: "hello world"},
			}},
		},
	}}
	rule := StandardRules()["ai_content"]
	a := Project(tree, rule)
	b := Project(tree, rule)
	if a != b {
		t.Fatalf("projection not idempotent: %v vs %v", a, b)
	}
}

func TestProjectContentIncludesHeaderAndText(t *testing.T) {
	tree := &OrganizedData{Root: &Header{
		Level: 0,
		Children: []Node{
			&Header{Level: 1, Text: "T", Children: []Node{
				&Text{Content: "hi"},
			}},
		},
	}}
	out := Project(tree, StandardRules()["ai_content"]).(string)
	if out == "" {
		t.Fatal("expected non-empty content")
	}
}

func TestTableRoundTrip(t *testing.T) {
	tbl := &Table{
		Headers: []string{"col1", "col2"},
		Rows: []TableRow{
			{"col1": []Node{&Text{Content: "a"}}, "col2": []Node{&Text{Content: "b"}}},
		},
	}
	tree := &OrganizedData{Root: &Header{Level: 0, Children: []Node{tbl}}}
	dataOut := Project(tree, StandardRules()["tables"]).([]Record)
	if len(dataOut) != 1 {
		t.Fatalf("expected 1 table record, got %d", len(dataOut))
	}
	rows, ok := dataOut[0]["rows"].([]Record)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected 1 row")
	}
	if rows[0]["col1"] != "a" || rows[0]["col2"] != "b" {
		t.Fatalf("cell mismatch: %v", rows[0])
	}
}
