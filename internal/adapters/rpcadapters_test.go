package adapters

import "testing"

func TestMessagesToStructPreservesOrder(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hello"},
	}
	s, err := messagesToStruct(msgs)
	if err != nil {
		t.Fatalf("messagesToStruct: %v", err)
	}
	list := s.Fields["messages"].GetListValue()
	if list == nil || len(list.Values) != 2 {
		t.Fatalf("expected 2 messages, got %+v", list)
	}
	first := list.Values[0].GetStructValue()
	if first.Fields["role"].GetStringValue() != "system" {
		t.Fatalf("expected first message role 'system', got %+v", first)
	}
}

func TestMessagesToStructHandlesEmptyList(t *testing.T) {
	s, err := messagesToStruct(nil)
	if err != nil {
		t.Fatalf("messagesToStruct: %v", err)
	}
	list := s.Fields["messages"].GetListValue()
	if list == nil || len(list.Values) != 0 {
		t.Fatalf("expected empty list, got %+v", list)
	}
}
