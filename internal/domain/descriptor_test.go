package domain

import "testing"

func TestElementDescriptor_Attr(t *testing.T) {
	d := ElementDescriptor{
		Tag:        "input",
		Attributes: map[string]string{"id": "username", "type": "text"},
	}

	if d.Attr("id") != "username" {
		t.Errorf("Attr(id) = %q", d.Attr("id"))
	}
	if d.Attr("name") != "" {
		t.Errorf("Attr(name) = %q, want empty", d.Attr("name"))
	}
	if !d.HasAttr("type") {
		t.Error("HasAttr(type) should be true")
	}

	var empty ElementDescriptor
	if empty.Attr("id") != "" {
		t.Error("Attr on nil map should return empty")
	}
}

func TestElementDescriptor_Classes(t *testing.T) {
	d := ElementDescriptor{Attributes: map[string]string{"class": "btn  btn-primary submit-btn"}}

	classes := d.Classes()
	if len(classes) != 3 {
		t.Fatalf("Classes length = %d, want 3", len(classes))
	}
	if classes[1] != "btn-primary" {
		t.Errorf("Classes[1] = %q", classes[1])
	}

	none := ElementDescriptor{}
	if none.Classes() != nil {
		t.Error("missing class attribute should yield nil")
	}
}

func TestElementDescriptor_BranchPath(t *testing.T) {
	d := ElementDescriptor{
		Tag:          "button",
		AncestorTags: []string{"html", "body", "form"},
	}

	if got := d.BranchPath(); got != "html/body/form/button" {
		t.Errorf("BranchPath = %q", got)
	}

	root := ElementDescriptor{Tag: "html"}
	if got := root.BranchPath(); got != "html" {
		t.Errorf("BranchPath = %q", got)
	}
}
