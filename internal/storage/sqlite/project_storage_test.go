package sqlite

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

func sampleProject(id string) *models.Project {
	return &models.Project{
		ID:   id,
		Name: id,
		Schema: models.ExtractionSchema{FieldGroups: []models.FieldGroup{
			{Name: "pricing", Description: "pricing plans", Fields: []models.Field{{Name: "plan", Type: models.FieldTypeText}}},
		}},
		EntityTypes: []models.EntityTypeDef{{Name: "plan", NormalizationRule: "plan_feature"}},
		Context:     models.ExtractionContext{SourceType: "docs", SourceLabel: "product docs"},
	}
}

// TestProjectStorage_CreateGetRoundTrip covers the JSON-column round trip for
// schema/entity types/context.
func TestProjectStorage_CreateGetRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewProjectStorage(db, arbor.NewLogger())
	ctx := context.Background()

	p := sampleProject("proj-round-trip")
	if err := storage.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := storage.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != p.Name {
		t.Fatalf("expected name %q, got %q", p.Name, got.Name)
	}
	if len(got.Schema.FieldGroups) != 1 || got.Schema.FieldGroups[0].Name != "pricing" {
		t.Fatalf("expected schema field groups to round-trip, got %+v", got.Schema)
	}
	if len(got.EntityTypes) != 1 || got.EntityTypes[0].Name != "plan" {
		t.Fatalf("expected entity types to round-trip, got %+v", got.EntityTypes)
	}
	if got.Context.SourceType != "docs" {
		t.Fatalf("expected context to round-trip, got %+v", got.Context)
	}
}

// TestProjectStorage_SoftDelete_HidesFromGetByNameAndList covers the
// soft-delete semantics: the row survives but is excluded from name lookup
// and listing.
func TestProjectStorage_SoftDelete_HidesFromGetByNameAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewProjectStorage(db, arbor.NewLogger())
	ctx := context.Background()

	p := sampleProject("proj-soft-delete")
	if err := storage.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := storage.SoftDelete(ctx, p.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := storage.GetByName(ctx, p.Name); err == nil {
		t.Fatal("expected GetByName to not find a soft-deleted project")
	}

	list, err := storage.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, got := range list {
		if got.ID == p.ID {
			t.Fatal("expected List to exclude soft-deleted projects")
		}
	}

	// Get by ID still finds the row; soft delete is not a hard delete.
	if _, err := storage.Get(ctx, p.ID); err != nil {
		t.Fatalf("expected Get to still find a soft-deleted project by id: %v", err)
	}
}

// TestProjectStorage_SoftDelete_UnknownIDErrors covers the not-found path.
func TestProjectStorage_SoftDelete_UnknownIDErrors(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewProjectStorage(db, arbor.NewLogger())
	if err := storage.SoftDelete(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected an error deleting an unknown project")
	}
}

// TestProjectStorage_Create_DuplicateNameConflicts covers the unique(name)
// constraint backing project name lookup.
func TestProjectStorage_Create_DuplicateNameConflicts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewProjectStorage(db, arbor.NewLogger())
	ctx := context.Background()

	p1 := sampleProject("proj-dup-1")
	p1.Name = "same-name"
	if err := storage.Create(ctx, p1); err != nil {
		t.Fatalf("create first: %v", err)
	}

	p2 := sampleProject("proj-dup-2")
	p2.Name = "same-name"
	if err := storage.Create(ctx, p2); err == nil {
		t.Fatal("expected a duplicate project name to conflict")
	}
}

// TestProjectStorage_Update_ChangesFields covers the update path used by
// project configuration edits.
func TestProjectStorage_Update_ChangesFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewProjectStorage(db, arbor.NewLogger())
	ctx := context.Background()

	p := sampleProject("proj-update")
	if err := storage.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	p.Name = "renamed"
	p.EntityTypes = append(p.EntityTypes, models.EntityTypeDef{Name: "limit", NormalizationRule: "limit"})
	if err := storage.Update(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := storage.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("expected renamed project, got %q", got.Name)
	}
	if len(got.EntityTypes) != 2 {
		t.Fatalf("expected 2 entity types after update, got %d", len(got.EntityTypes))
	}
}
