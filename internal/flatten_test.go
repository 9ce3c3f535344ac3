package internal

import "testing"

// TestFlattenNestedAndArray tests that a nested map with an array is
// flattened correctly.
func TestFlattenNestedAndArray(t *testing.T) {
	input := map[string]interface{}{
		"pull_request": map[string]interface{}{
			"draft": false,
			"labels": []interface{}{
				map[string]interface{}{"name": "bug"},
				map[string]interface{}{"name": "urgent"},
			},
		},
	}

	flat := Flatten(input)
	if flat["pull_request.draft"] != false {
		t.Fatalf("expected pull_request.draft to be false")
	}
	if _, ok := flat["pull_request.labels"]; !ok {
		t.Fatalf("expected pull_request.labels to exist")
	}
	if flat["pull_request.labels[0].name"] != "bug" {
		t.Fatalf("expected labels[0].name to be bug")
	}
	if flat["pull_request.labels[1].name"] != "urgent" {
		t.Fatalf("expected labels[1].name to be urgent")
	}
}
