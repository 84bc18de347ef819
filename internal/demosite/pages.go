package demosite

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Page is one path of the fake competitor site with its version history.
// Versions[0] is v1.
type Page struct {
	Path        string
	Description string
	Versions    []string
}

// html returns the document for a 1-based version, clamped to what exists.
func (p Page) html(version int) string {
	if len(p.Versions) == 0 {
		return ""
	}
	if version < 1 {
		version = 1
	}
	if version > len(p.Versions) {
		version = len(p.Versions)
	}
	return p.Versions[version-1]
}

// AllPages returns the fake competitor pages.
func AllPages() []Page {
	return []Page{homePage(), pricingPage(), featuresPage(), testimonialsPage()}
}

// PricingPageV1 / PricingPageV2 expose the pricing fixtures to tests that
// need a realistic pricing change.
func PricingPageV1() string { return pricingPage().Versions[0] }
func PricingPageV2() string { return pricingPage().Versions[1] }

var priceRe = regexp.MustCompile(`\$(\d+)`)

// Mutate returns a changed copy of the document, for simulated captures: the
// first dollar amount is raised by ten and a promotion banner is appended.
// The result always differs from the input after whitespace normalization.
func Mutate(html string) string {
	mutated := false
	out := priceRe.ReplaceAllStringFunc(html, func(m string) string {
		if mutated {
			return m
		}
		n, err := strconv.Atoi(strings.TrimPrefix(m, "$"))
		if err != nil {
			return m
		}
		mutated = true
		return fmt.Sprintf("$%d", n+10)
	})

	banner := `<div class="promo-banner">Limited time: save 20% on annual plans</div>`
	if idx := strings.LastIndex(out, "</body>"); idx >= 0 {
		return out[:idx] + banner + out[idx:]
	}
	return out + banner
}

func shell(title, body string) string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>` + title + `</title>
</head>
<body>
  <header id="site-header">
    <nav class="main-nav">
      <a href="/">Northwind Analytics</a>
      <a href="/pricing">Pricing</a>
      <a href="/features">Features</a>
      <a href="/testimonials">Customers</a>
    </nav>
  </header>
` + body + `
  <footer id="site-footer">
    <p>&copy; 2025 Northwind Analytics, Inc.</p>
    <a href="/privacy">Privacy</a> <a href="/terms">Terms</a>
  </footer>
</body>
</html>`
}

func homePage() Page {
	v1 := shell("Northwind Analytics", `
  <section id="hero" class="hero">
    <h1>Analytics your whole team can read</h1>
    <p>Dashboards, funnels and alerts without a data engineer on call.</p>
    <a class="cta-button" href="/signup">Start free trial</a>
  </section>
  <section class="features" data-section="features">
    <h2>Why teams pick Northwind</h2>
    <ul>
      <li>Connect any warehouse in minutes</li>
      <li>Self-serve dashboards for every team</li>
      <li>Alerting on the metrics that matter</li>
    </ul>
  </section>`)

	v2 := shell("Northwind Analytics", `
  <section id="hero" class="hero">
    <h1>The fastest path from raw data to decisions</h1>
    <p>Dashboards, funnels and AI summaries without a data engineer on call.</p>
    <a class="cta-button" href="/signup">Start free trial</a>
  </section>
  <section class="features" data-section="features">
    <h2>Why teams pick Northwind</h2>
    <ul>
      <li>Connect any warehouse in minutes</li>
      <li>Self-serve dashboards for every team</li>
      <li>Alerting on the metrics that matter</li>
    </ul>
  </section>`)

	return Page{
		Path:        "/",
		Description: "Landing page; v2 rewrites the hero headline",
		Versions:    []string{v1, v2},
	}
}

func pricingPage() Page {
	v1 := shell("Pricing - Northwind Analytics", `
  <section id="pricing" class="pricing" data-section="pricing">
    <h2>Simple pricing</h2>
    <div class="plan">
      <h3>Starter</h3>
      <p class="price">$29/month</p>
      <p>Up to 5 seats, 3 dashboards</p>
    </div>
    <div class="plan">
      <h3>Growth</h3>
      <p class="price">$99/month</p>
      <p>Unlimited seats, unlimited dashboards</p>
    </div>
    <div class="plan">
      <h3>Enterprise</h3>
      <p class="price">Contact us</p>
      <p>SSO, audit logs, dedicated support</p>
    </div>
  </section>`)

	v2 := shell("Pricing - Northwind Analytics", `
  <section id="pricing" class="pricing" data-section="pricing">
    <h2>Simple pricing</h2>
    <div class="plan">
      <h3>Starter</h3>
      <p class="price">$39/month</p>
      <p>Up to 5 seats, 3 dashboards</p>
    </div>
    <div class="plan">
      <h3>Growth</h3>
      <p class="price">$129/month</p>
      <p>Unlimited seats, unlimited dashboards</p>
    </div>
    <div class="plan">
      <h3>Enterprise</h3>
      <p class="price">Contact us</p>
      <p>SSO, audit logs, dedicated support</p>
    </div>
  </section>`)

	v3 := shell("Pricing - Northwind Analytics", `
  <section id="pricing" class="pricing" data-section="pricing">
    <h2>Simple pricing</h2>
    <div class="plan">
      <h3>Starter</h3>
      <p class="price">Free</p>
      <p>Up to 2 seats, 1 dashboard</p>
    </div>
    <div class="plan">
      <h3>Growth</h3>
      <p class="price">$129/month</p>
      <p>Unlimited seats, unlimited dashboards</p>
    </div>
    <div class="plan">
      <h3>Enterprise</h3>
      <p class="price">Contact us</p>
      <p>SSO, audit logs, dedicated support</p>
    </div>
  </section>`)

	return Page{
		Path:        "/pricing",
		Description: "Pricing page; v2 raises prices, v3 adds a free tier",
		Versions:    []string{v1, v2, v3},
	}
}

func featuresPage() Page {
	v1 := shell("Features - Northwind Analytics", `
  <section id="features" class="features" data-section="features">
    <h2>Features</h2>
    <div class="feature"><h3>Warehouse sync</h3><p>Native connectors for Snowflake, BigQuery and Redshift.</p></div>
    <div class="feature"><h3>Dashboards</h3><p>Drag-and-drop charts with live refresh.</p></div>
    <div class="feature"><h3>Alerts</h3><p>Thresholds and anomaly detection on any metric.</p></div>
  </section>`)

	v2 := shell("Features - Northwind Analytics", `
  <section id="features" class="features" data-section="features">
    <h2>Features</h2>
    <div class="feature"><h3>Warehouse sync</h3><p>Native connectors for Snowflake, BigQuery and Redshift.</p></div>
    <div class="feature"><h3>Dashboards</h3><p>Drag-and-drop charts with live refresh.</p></div>
    <div class="feature"><h3>Alerts</h3><p>Thresholds and anomaly detection on any metric.</p></div>
    <div class="feature"><h3>AI summaries</h3><p>Plain-language briefs of every dashboard, daily in Slack.</p></div>
  </section>`)

	return Page{
		Path:        "/features",
		Description: "Feature list; v2 launches AI summaries",
		Versions:    []string{v1, v2},
	}
}

func testimonialsPage() Page {
	v1 := shell("Customers - Northwind Analytics", `
  <section id="testimonials" class="testimonials" data-section="testimonials">
    <h2>What customers say</h2>
    <blockquote>"We cut reporting time from days to minutes." <cite>Dana, Ops lead at Ferryline</cite></blockquote>
    <blockquote>"Finally dashboards the whole company actually opens." <cite>Sam, CTO at Quartzio</cite></blockquote>
  </section>`)

	v2 := shell("Customers - Northwind Analytics", `
  <section id="testimonials" class="testimonials" data-section="testimonials">
    <h2>What customers say</h2>
    <blockquote>"We cut reporting time from days to minutes." <cite>Dana, Ops lead at Ferryline</cite></blockquote>
    <blockquote>"Northwind paid for itself in the first month." <cite>Priya, VP Data at Hollowbrook</cite></blockquote>
  </section>`)

	return Page{
		Path:        "/testimonials",
		Description: "Social proof; v2 swaps a quote",
		Versions:    []string{v1, v2},
	}
}
