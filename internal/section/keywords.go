package section

import (
	"strings"

	"github.com/raysh454/spyglass/internal/model"
)

// attrTokens maps id/class/data-section tokens to section types. Tokens are
// matched after lowercasing and splitting on delimiters, so "pricing-table"
// and "pricingTable" both reach "pricing".
var attrTokens = map[string]model.SectionType{
	"hero": model.SectionHero, "banner": model.SectionHero,
	"jumbotron": model.SectionHero, "masthead": model.SectionHero,
	"portada": model.SectionHero,

	"pricing": model.SectionPricing, "price": model.SectionPricing,
	"prices": model.SectionPricing, "plans": model.SectionPricing,
	"tarifas": model.SectionPricing, "precios": model.SectionPricing,
	"precio": model.SectionPricing,

	"features": model.SectionFeatures, "feature": model.SectionFeatures,
	"benefits": model.SectionFeatures, "servicios": model.SectionFeatures,
	"caracteristicas": model.SectionFeatures, "funcionalidades": model.SectionFeatures,
	"ventajas": model.SectionFeatures,

	"nav": model.SectionNavigation, "navbar": model.SectionNavigation,
	"navigation": model.SectionNavigation, "menu": model.SectionNavigation,

	"header": model.SectionHeader, "topbar": model.SectionHeader,
	"cabecera": model.SectionHeader,

	"footer": model.SectionFooter, "pie": model.SectionFooter,

	"testimonials": model.SectionTestimonials, "testimonial": model.SectionTestimonials,
	"reviews": model.SectionTestimonials, "quotes": model.SectionTestimonials,
	"testimonios": model.SectionTestimonials, "opiniones": model.SectionTestimonials,
	"resenas": model.SectionTestimonials,

	"cta": model.SectionCTA, "calltoaction": model.SectionCTA,
	"signup": model.SectionCTA, "subscribe": model.SectionCTA,

	"form": model.SectionForm, "contact": model.SectionForm,
	"contacto": model.SectionForm, "formulario": model.SectionForm,

	"about": model.SectionAbout, "nosotros": model.SectionAbout,
	"acerca": model.SectionAbout,

	"team": model.SectionTeam, "staff": model.SectionTeam,
	"equipo": model.SectionTeam,
}

// headingKeywords maps heading substrings (normalized: lowercase, accents
// stripped) to section types. English and Spanish variants are listed
// together. Order matters only within the matching loop, which scans this
// slice so lookups stay deterministic.
var headingKeywords = []struct {
	substr string
	Type   model.SectionType
}{
	{"pricing", model.SectionPricing},
	{"prices", model.SectionPricing},
	{"price", model.SectionPricing},
	{"plans", model.SectionPricing},
	{"plan", model.SectionPricing},
	{"precios", model.SectionPricing},
	{"precio", model.SectionPricing},
	{"tarifas", model.SectionPricing},
	{"tarifa", model.SectionPricing},
	{"planes", model.SectionPricing},

	{"features", model.SectionFeatures},
	{"feature", model.SectionFeatures},
	{"benefits", model.SectionFeatures},
	{"why choose", model.SectionFeatures},
	{"caracteristicas", model.SectionFeatures},
	{"funcionalidades", model.SectionFeatures},
	{"beneficios", model.SectionFeatures},
	{"ventajas", model.SectionFeatures},
	{"por que elegir", model.SectionFeatures},

	{"testimonials", model.SectionTestimonials},
	{"testimonial", model.SectionTestimonials},
	{"reviews", model.SectionTestimonials},
	{"customers say", model.SectionTestimonials},
	{"testimonios", model.SectionTestimonials},
	{"opiniones", model.SectionTestimonials},
	{"resenas", model.SectionTestimonials},
	{"lo que dicen", model.SectionTestimonials},

	{"get started", model.SectionCTA},
	{"sign up", model.SectionCTA},
	{"start free", model.SectionCTA},
	{"try it", model.SectionCTA},
	{"empieza", model.SectionCTA},
	{"comienza", model.SectionCTA},
	{"registrate", model.SectionCTA},
	{"prueba gratis", model.SectionCTA},

	{"about us", model.SectionAbout},
	{"about", model.SectionAbout},
	{"who we are", model.SectionAbout},
	{"our story", model.SectionAbout},
	{"nosotros", model.SectionAbout},
	{"quienes somos", model.SectionAbout},
	{"nuestra historia", model.SectionAbout},
	{"acerca de", model.SectionAbout},

	{"our team", model.SectionTeam},
	{"meet the team", model.SectionTeam},
	{"team", model.SectionTeam},
	{"nuestro equipo", model.SectionTeam},
	{"equipo", model.SectionTeam},

	{"contact us", model.SectionForm},
	{"contact", model.SectionForm},
	{"get in touch", model.SectionForm},
	{"contacto", model.SectionForm},
	{"contactanos", model.SectionForm},
	{"escribenos", model.SectionForm},

	{"welcome", model.SectionHero},
	{"bienvenido", model.SectionHero},
	{"bienvenidos", model.SectionHero},
}

// ctaWords are imperative action words for the content heuristic.
var ctaWords = []string{
	"buy now", "get started", "sign up", "start free", "try free", "try now",
	"subscribe", "join now", "download", "order now", "book now",
	"comprar", "empieza", "empiece", "prueba", "suscribete", "unete",
	"descarga", "registrate", "reserva",
}

// currencyMarkers flag pricing content: symbols plus per-period suffixes.
var currencyMarkers = []string{"$", "€", "£", "¥", "/mo", "/month", "/mes", "per month", "al mes", "usd", "eur"}

var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// normalizeText lowercases and strips Spanish accents so keyword matching is
// diacritic-insensitive.
func normalizeText(s string) string {
	return strings.ToLower(accentReplacer.Replace(s))
}

// splitTokens breaks an attribute value into lowercase alphanumeric tokens.
func splitTokens(s string) []string {
	return strings.FieldsFunc(normalizeText(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// tokenType resolves an attribute value to a section type by token lookup.
func tokenType(attrValue string) (model.SectionType, bool) {
	for _, tok := range splitTokens(attrValue) {
		if t, ok := attrTokens[tok]; ok {
			return t, true
		}
	}
	return "", false
}

// headingType resolves heading text to a section type.
func headingType(text string) (model.SectionType, bool) {
	norm := normalizeText(text)
	for _, kw := range headingKeywords {
		if strings.Contains(norm, kw.substr) {
			return kw.Type, true
		}
	}
	return "", false
}

// hasCurrency reports whether text contains a pricing marker.
func hasCurrency(text string) bool {
	norm := normalizeText(text)
	for _, marker := range currencyMarkers {
		if strings.Contains(norm, marker) {
			return true
		}
	}
	return false
}

// hasCTAWord reports whether text contains an imperative action phrase.
func hasCTAWord(text string) bool {
	norm := normalizeText(text)
	for _, w := range ctaWords {
		if strings.Contains(norm, w) {
			return true
		}
	}
	return false
}

// PricingSignal reports whether text carries a pricing delta signal: a
// currency marker together with a number.
func PricingSignal(text string) bool {
	if !hasCurrency(text) {
		return false
	}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
