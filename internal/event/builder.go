// Package event builds simulated commerce events and applies chaos to them.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/capisim/capisim/internal/catalog"
	"github.com/capisim/capisim/internal/model"
)

// Rand is the random source for margin sampling and chaos.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// CatalogProvider returns the catalog current at call time.
type CatalogProvider interface {
	Catalog() *catalog.Catalog
}

// BuilderConfig configures a Builder. Zero values get sane defaults.
type BuilderConfig struct {
	Catalog          CatalogProvider
	StoreCurrency    string
	MismatchCurrency string
	Rand             Rand
	Now              func() time.Time
	NewID            func() string
}

// Builder constructs canonical event records.
type Builder struct {
	catalog          CatalogProvider
	storeCurrency    string
	mismatchCurrency string
	rng              Rand
	now              func() time.Time
	newID            func() string
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	b := &Builder{
		catalog:          cfg.Catalog,
		storeCurrency:    strings.ToUpper(cfg.StoreCurrency),
		mismatchCurrency: strings.ToUpper(cfg.MismatchCurrency),
		rng:              cfg.Rand,
		now:              cfg.Now,
		newID:            cfg.NewID,
	}
	if b.storeCurrency == "" {
		b.storeCurrency = "USD"
	}
	if b.mismatchCurrency == "" || b.mismatchCurrency == b.storeCurrency {
		b.mismatchCurrency = alternateCurrency(b.storeCurrency)
	}
	if b.rng == nil {
		b.rng = globalRand{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newID == nil {
		b.newID = func() string { return uuid.NewString() }
	}
	return b
}

// Build constructs the event for name and sku. An empty or unknown sku
// resolves to a synthesized product. Apart from random sampling it has no
// side effects.
func (b *Builder) Build(name model.EventName, sku string, controls model.Controls, session model.Session) model.Event {
	controls = controls.Normalize()

	var cat *catalog.Catalog
	if b.catalog != nil {
		cat = b.catalog.Catalog()
	}
	product := cat.Resolve(sku, b.rng)

	ev := model.Event{
		EventName:      name,
		EventTime:      b.now().Unix(),
		ActionSource:   model.ActionSourceWebsite,
		EventSourceURL: product.URL,
		SKU:            product.SKU,
		UserData:       b.userData(controls, session),
		CustomData: model.CustomData{
			ContentIDs:  []string{product.SKU},
			ContentType: "product",
			ContentName: product.Name,
			Value:       model.Some(b.margin(product.Price, controls.CostPctMin, controls.CostPctMax)),
			Price:       model.Some(product.Price),
		},
	}
	if controls.PLTV != nil {
		pltv := *controls.PLTV
		ev.CustomData.PLTV = &pltv
	}

	b.assignEventIDs(&ev, controls)
	b.assignCurrencies(&ev, controls.Currency)
	return ev
}

// margin samples a cost percentage in [lo, hi] and applies it to price.
// The result is rounded to cents but never leaves [price*lo/100, price*hi/100].
func (b *Builder) margin(price, lo, hi float64) float64 {
	pct := lo + b.rng.Float64()*(hi-lo)
	v := roundCents(price * pct / 100)
	return math.Min(math.Max(v, price*lo/100), price*hi/100)
}

func (b *Builder) assignEventIDs(ev *model.Event, controls model.Controls) {
	if controls.SharedEventID {
		id := controls.EventID
		if id == "" {
			id = b.newID()
		}
		ev.EventID = model.Some(id)
		ev.Pixel.EventID = ev.EventID
		ev.CAPI.EventID = ev.EventID
		return
	}

	ev.Pixel.EventID = model.Some(b.newID())
	ev.CAPI.EventID = model.Some(b.newID())
	ev.EventID = ev.Pixel.EventID
}

func (b *Builder) assignCurrencies(ev *model.Event, mode model.CurrencyMode) {
	store := model.Some(b.storeCurrency)
	null := model.Null[string]()

	var pixel, capi, canonical model.Nullable[string]
	switch mode {
	case model.CurrencyAuto:
		pixel, capi, canonical = store, store, store
	case model.CurrencyNull:
		pixel, capi, canonical = null, null, null
	case model.CurrencyPixelNull:
		pixel, capi, canonical = null, store, store
	case model.CurrencyCapiNull:
		pixel, capi, canonical = store, null, store
	case model.CurrencyMismatch:
		pixel, capi, canonical = store, model.Some(b.mismatchCurrency), store
	default:
		code, ok := mode.Code()
		if !ok {
			pixel, capi, canonical = store, store, store
			break
		}
		v := model.Some(code)
		pixel, capi, canonical = v, v, v
	}

	ev.CustomData.Currency = canonical
	ev.Pixel.Currency = pixel
	ev.CAPI.Currency = capi
}

func (b *Builder) userData(controls model.Controls, session model.Session) model.UserData {
	include := controls.IncludedUserFields()
	var u model.UserData

	if include.Has(model.UserFieldEmail) && controls.Email != "" {
		u.Email = HashEmail(controls.Email)
	}
	if include.Has(model.UserFieldIP) {
		u.ClientIPAddress = session.IP
	}
	if include.Has(model.UserFieldUserAgent) {
		u.ClientUserAgent = session.UserAgent
	}
	if include.Has(model.UserFieldFBP) {
		u.FBP = session.FBP
	}
	if include.Has(model.UserFieldFBC) {
		u.FBC = session.FBC
	}
	return u
}

// HashEmail normalizes an email (trim, lower-case) and returns its
// SHA-256 hex digest, the form ad platforms match on.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func alternateCurrency(store string) string {
	if store == "EUR" {
		return "USD"
	}
	return "EUR"
}
