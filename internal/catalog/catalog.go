// Package catalog generates the demo product catalog events are built from.
package catalog

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/capisim/capisim/internal/model"
)

const (
	// MaxSize is the largest catalog the simulator will generate.
	MaxSize = 500

	// MinPrice and MaxPrice bound generated and synthesized prices.
	MinPrice = 9.0
	MaxPrice = 199.0

	// DefaultSKU is the content id used when no SKU is given.
	DefaultSKU = "SKU-DEFAULT"
)

// Rand is the random source used for prices.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// GlobalRand returns a goroutine-safe source backed by math/rand/v2.
func GlobalRand() Rand {
	return globalRand{}
}

// Catalog is an immutable, ordered set of products.
type Catalog struct {
	products []model.Product
	bySKU    map[string]int
	baseURL  string
}

// Generate builds a catalog of size products named SKU0001, SKU0002, ...
// size is clamped to [0, MaxSize].
func Generate(size int, baseURL string, rng Rand) *Catalog {
	if rng == nil {
		rng = GlobalRand()
	}
	size = ClampSize(size)
	baseURL = strings.TrimRight(baseURL, "/")

	c := &Catalog{
		products: make([]model.Product, 0, size),
		bySKU:    make(map[string]int, size),
		baseURL:  baseURL,
	}
	for i := 0; i < size; i++ {
		sku := fmt.Sprintf("SKU%04d", i+1)
		c.bySKU[sku] = len(c.products)
		c.products = append(c.products, model.Product{
			SKU:   sku,
			Name:  fmt.Sprintf("Demo Product %d", i+1),
			Price: RandomPrice(rng),
			URL:   productURL(baseURL, sku),
			Image: fmt.Sprintf("https://picsum.photos/seed/%s/600/400", sku),
		})
	}
	return c
}

// FromProducts builds a catalog from explicit products, mainly for tests.
func FromProducts(baseURL string, products ...model.Product) *Catalog {
	c := &Catalog{
		products: make([]model.Product, 0, len(products)),
		bySKU:    make(map[string]int, len(products)),
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
	for _, p := range products {
		if p.URL == "" {
			p.URL = productURL(c.baseURL, p.SKU)
		}
		c.bySKU[p.SKU] = len(c.products)
		c.products = append(c.products, p)
	}
	return c
}

// ClampSize bounds a requested catalog size to [0, MaxSize].
func ClampSize(size int) int {
	if size < 0 {
		return 0
	}
	if size > MaxSize {
		return MaxSize
	}
	return size
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// Get looks up a product by SKU.
func (c *Catalog) Get(sku string) (model.Product, bool) {
	if c == nil {
		return model.Product{}, false
	}
	i, ok := c.bySKU[sku]
	if !ok {
		return model.Product{}, false
	}
	return c.products[i], true
}

// At returns the product at index i modulo Len. The catalog must be non-empty.
func (c *Catalog) At(i int) model.Product {
	n := len(c.products)
	return c.products[((i%n)+n)%n]
}

// Products returns a copy of all products in SKU order.
func (c *Catalog) Products() []model.Product {
	if c == nil {
		return nil
	}
	return append([]model.Product(nil), c.products...)
}

// Resolve returns the catalog product for sku. An empty or unknown SKU
// yields a synthesized product with a random plausible price, so sends
// never fail on an empty catalog.
func (c *Catalog) Resolve(sku string, rng Rand) model.Product {
	if p, ok := c.Get(sku); ok {
		return p
	}
	if rng == nil {
		rng = GlobalRand()
	}
	if sku == "" {
		sku = DefaultSKU
	}
	base := ""
	if c != nil {
		base = c.baseURL
	}
	return model.Product{
		SKU:   sku,
		Name:  "Demo Product",
		Price: RandomPrice(rng),
		URL:   productURL(base, sku),
	}
}

// RandomPrice returns a price in [MinPrice, MaxPrice] rounded to cents.
func RandomPrice(rng Rand) float64 {
	return math.Round((MinPrice+rng.Float64()*(MaxPrice-MinPrice))*100) / 100
}

func productURL(baseURL, sku string) string {
	if baseURL == "" {
		return ""
	}
	return baseURL + "/product/" + sku
}
