package knowledge

import (
	"context"
	"testing"
)

func TestOpenRejectsMalformedDSN(t *testing.T) {
	_, err := Open(context.Background(), "not a valid dsn ://", 1536)
	if err == nil {
		t.Fatalf("expected an error for a malformed dsn")
	}
}

func TestUpsertRejectsMismatchedEmbeddingDimensions(t *testing.T) {
	s := &Store{dims: 1536}
	err := s.Upsert(context.Background(), Document{ID: "doc-1", Embedding: make([]float32, 3)})
	if err == nil {
		t.Fatalf("expected an error for a dimension mismatch")
	}
}

func TestMetadataJSONDefaultsToEmptyMap(t *testing.T) {
	got := metadataJSON(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected an empty, non-nil map, got %#v", got)
	}
}
