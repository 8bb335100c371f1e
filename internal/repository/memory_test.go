package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/lunore/internal/model"
)

func TestMemoryUserRepo_CreateAndFind(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	u := &model.User{ID: "u1", Email: "a@x.com", Name: "Alice", Role: model.RoleCustomer}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := repo.FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail returned error: %v", err)
	}
	if got == nil || got.ID != "u1" {
		t.Fatalf("FindByEmail = %+v, want user u1", got)
	}

	// 返り値を変更してもストアに影響しないこと
	got.Name = "changed"
	again, _ := repo.FindByID(ctx, "u1")
	if again.Name != "Alice" {
		t.Errorf("stored name = %q, want %q", again.Name, "Alice")
	}
}

func TestMemoryUserRepo_DuplicateEmail(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	_ = repo.Create(ctx, &model.User{ID: "u1", Email: "a@x.com"})
	err := repo.Create(ctx, &model.User{ID: "u2", Email: "a@x.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestMemoryUserRepo_FindMissing_ReturnsNil(t *testing.T) {
	repo := NewMemoryUserRepo()
	got, err := repo.FindByID(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("FindByID = (%v, %v), want (nil, nil)", got, err)
	}
}

func seedProducts(t *testing.T, repo *MemoryProductRepo) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	products := []*model.Product{
		{ID: "p1", Name: "Linen Shirt", Category: model.CategoryShirts, Description: "Breathable summer shirt", Featured: true, CreatedAt: base},
		{ID: "p2", Name: "Leather Boot", Category: model.CategoryShoes, Description: "Handmade boot", CreatedAt: base.Add(time.Hour)},
		{ID: "p3", Name: "Canvas Tote", Category: model.CategoryAccessories, Description: "Everyday bag for shirts and more", Featured: true, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, p := range products {
		if err := repo.Create(context.Background(), p); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
}

func ids(products []*model.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMemoryProductRepo_List_Filters(t *testing.T) {
	repo := NewMemoryProductRepo()
	seedProducts(t, repo)
	yes := true

	tests := []struct {
		name   string
		filter ProductFilter
		want   []string
	}{
		{"no filter newest first", ProductFilter{}, []string{"p3", "p2", "p1"}},
		{"category case-insensitive", ProductFilter{Category: "shoes"}, []string{"p2"}},
		{"featured", ProductFilter{Featured: &yes}, []string{"p3", "p1"}},
		{"search all words", ProductFilter{Search: "summer SHIRT"}, []string{"p1"}},
		{"keyword matches category", ProductFilter{Keyword: "shirt"}, []string{"p3", "p1"}},
		{"limit", ProductFilter{Limit: 2}, []string{"p3", "p2"}},
		{"offset", ProductFilter{Limit: 2, Offset: 2}, []string{"p1"}},
		{"offset past end", ProductFilter{Offset: 5}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("List = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestMemoryProductRepo_UpdateAndDelete(t *testing.T) {
	repo := NewMemoryProductRepo()
	seedProducts(t, repo)
	ctx := context.Background()

	ok, err := repo.Update(ctx, &model.Product{ID: "missing"})
	if err != nil || ok {
		t.Errorf("Update(missing) = (%v, %v), want (false, nil)", ok, err)
	}

	deleted, err := repo.Delete(ctx, "p2")
	if err != nil || deleted == nil || deleted.ID != "p2" {
		t.Fatalf("Delete = (%v, %v), want p2", deleted, err)
	}
	n, _ := repo.Count(ctx)
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	found, _ := repo.FindByIDs(ctx, []string{"p1", "p2"})
	if len(found) != 1 || found["p1"] == nil {
		t.Errorf("FindByIDs = %v, want only p1", found)
	}
}

func TestMemoryCartRepo_Save_CompareAndSwap(t *testing.T) {
	repo := NewMemoryCartRepo()
	ctx := context.Background()

	cart := model.NewCart("u1", time.Now())
	if err := repo.Save(ctx, cart); err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}
	if cart.Version != 1 {
		t.Errorf("Version = %d, want 1", cart.Version)
	}

	// 同じユーザーで新規作成しようとすると競合
	if err := repo.Save(ctx, model.NewCart("u1", time.Now())); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("second create err = %v, want ErrVersionConflict", err)
	}

	a, _ := repo.FindByUserID(ctx, "u1")
	b, _ := repo.FindByUserID(ctx, "u1")

	a.Lines = append(a.Lines, model.CartLine{ProductID: "p1", Quantity: 1})
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("Save(a) returned error: %v", err)
	}

	// bは古いバージョンを読んでいるため更新できない
	b.Lines = append(b.Lines, model.CartLine{ProductID: "p2", Quantity: 1})
	if err := repo.Save(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("Save(b) err = %v, want ErrVersionConflict", err)
	}

	stored, _ := repo.FindByUserID(ctx, "u1")
	if len(stored.Lines) != 1 || stored.Lines[0].ProductID != "p1" {
		t.Errorf("stored lines = %+v, want only p1", stored.Lines)
	}
}
