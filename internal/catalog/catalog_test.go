package catalog

import (
	"math/rand/v2"
	"testing"

	"github.com/capisim/capisim/internal/model"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	c := Generate(3, "http://127.0.0.1:5000/", rand.New(rand.NewPCG(1, 2)))

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	p, ok := c.Get("SKU0002")
	if !ok {
		t.Fatal("SKU0002 not found")
	}
	if p.Name != "Demo Product 2" {
		t.Errorf("Name = %q, want Demo Product 2", p.Name)
	}
	if p.URL != "http://127.0.0.1:5000/product/SKU0002" {
		t.Errorf("URL = %q", p.URL)
	}
	for _, p := range c.Products() {
		if p.Price < MinPrice || p.Price > MaxPrice {
			t.Errorf("%s price %v out of range", p.SKU, p.Price)
		}
	}
}

func TestGenerate_ClampsSize(t *testing.T) {
	t.Parallel()

	if got := Generate(-4, "", nil).Len(); got != 0 {
		t.Errorf("Generate(-4).Len() = %d, want 0", got)
	}
	if got := Generate(MaxSize+50, "", nil).Len(); got != MaxSize {
		t.Errorf("Generate(MaxSize+50).Len() = %d, want %d", got, MaxSize)
	}
}

func TestResolve_EmptyCatalogSynthesizesDefault(t *testing.T) {
	t.Parallel()

	c := Generate(0, "http://shop.test", nil)
	p := c.Resolve("", rand.New(rand.NewPCG(3, 4)))

	if p.SKU != DefaultSKU {
		t.Errorf("SKU = %q, want %q", p.SKU, DefaultSKU)
	}
	if p.Price < MinPrice || p.Price > MaxPrice {
		t.Errorf("price %v out of range", p.Price)
	}
}

func TestResolve_UnknownSKUKeepsReference(t *testing.T) {
	t.Parallel()

	c := FromProducts("", model.Product{SKU: "SKU1", Price: 50})

	if p := c.Resolve("SKU1", nil); p.Price != 50 {
		t.Errorf("known SKU price = %v, want 50", p.Price)
	}
	if p := c.Resolve("NOPE", nil); p.SKU != "NOPE" {
		t.Errorf("unknown SKU = %q, want NOPE", p.SKU)
	}
}

func TestAt_Wraps(t *testing.T) {
	t.Parallel()

	c := FromProducts("", model.Product{SKU: "A"}, model.Product{SKU: "B"})
	if c.At(0).SKU != "A" || c.At(3).SKU != "B" || c.At(-1).SKU != "B" {
		t.Error("At should wrap around the catalog")
	}
}

func TestNilCatalog(t *testing.T) {
	t.Parallel()

	var c *Catalog
	if c.Len() != 0 {
		t.Error("nil catalog should be empty")
	}
	if p := c.Resolve("", nil); p.SKU != DefaultSKU {
		t.Errorf("nil catalog Resolve SKU = %q", p.SKU)
	}
}

func TestFromProducts_FillsProductURL(t *testing.T) {
	t.Parallel()

	c := FromProducts("http://shop.test/",
		model.Product{SKU: "SKU1", Price: 50},
		model.Product{SKU: "SKU2", Price: 20, URL: "http://elsewhere.test/p"},
	)

	p, _ := c.Get("SKU1")
	if p.URL != "http://shop.test/product/SKU1" {
		t.Errorf("SKU1 URL = %q", p.URL)
	}
	p, _ = c.Get("SKU2")
	if p.URL != "http://elsewhere.test/p" {
		t.Errorf("explicit URL overwritten: %q", p.URL)
	}
}
