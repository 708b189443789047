package businessflow

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/app/services"
	"golang.org/x/net/html"
)

// ScoreReport is the output of a heuristic scorer. Score is 0..100.
type ScoreReport struct {
	Score    int
	Rating   string
	Findings []string
}

// SenderProfile describes how mail leaves for deliverability scoring
type SenderProfile struct {
	SenderEmail string
	HasSPF      bool
	HasDKIM     bool
	HasDMARC    bool
	UsesRelay   bool
	Subject     string
	Body        string
}

type spamRule struct {
	name   string
	weight int
	hit    func(subject, body string) bool
}

var linkPattern = regexp.MustCompile(`(?i)https?://`)

var spamPhrases = []string{
	"act now", "buy now", "click here", "free money", "guaranteed", "limited time",
	"no obligation", "risk-free", "winner", "urgent", "100% free", "cash bonus",
	"earn extra", "double your", "once in a lifetime", "special promotion",
}

var freemailDomains = []string{"gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "aol.com", "icloud.com"}

var spamRules = []spamRule{
	{"subject is mostly uppercase", 20, func(subject, _ string) bool { return upperRatio(subject) > 0.6 && letterCount(subject) >= 6 }},
	{"subject has repeated exclamation marks", 10, func(subject, _ string) bool { return strings.Count(subject, "!") >= 2 }},
	{"subject contains a currency symbol", 5, func(subject, _ string) bool { return strings.ContainsAny(subject, "$€£") }},
	{"body has many links", 15, func(_, body string) bool { return len(linkPattern.FindAllStringIndex(body, -1)) > 10 }},
	{"body is mostly images", 15, func(_, body string) bool {
		return hasImage(body) && len(strings.TrimSpace(services.StripTags(body))) < 100
	}},
	{"body is very short", 5, func(_, body string) bool { return len(strings.TrimSpace(services.StripTags(body))) < 20 }},
	{"body shouts in uppercase", 10, func(_, body string) bool {
		text := services.StripTags(body)
		return letterCount(text) >= 40 && upperRatio(text) > 0.5
	}},
}

func hasImage(body string) bool {
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "img" {
				return true
			}
		}
	}
}

// SpamScore estimates how likely content is filtered as spam; higher is worse
func SpamScore(subject, body string) ScoreReport {
	report := ScoreReport{Findings: make([]string, 0)}
	for _, rule := range spamRules {
		if rule.hit(subject, body) {
			report.Score += rule.weight
			report.Findings = append(report.Findings, rule.name)
		}
	}

	content := strings.ToLower(subject + " " + services.StripTags(body))
	phrases := 0
	for _, p := range spamPhrases {
		if strings.Contains(content, p) {
			phrases++
			report.Findings = append(report.Findings, fmt.Sprintf("contains %q", p))
		}
	}
	report.Score += min(phrases*8, 40)
	report.Score = min(report.Score, 100)

	switch {
	case report.Score >= 50:
		report.Rating = "high"
	case report.Score >= 20:
		report.Rating = "medium"
	default:
		report.Rating = "low"
	}
	return report
}

// DeliverabilityScore estimates inbox placement from authentication and sender setup; higher is better
func DeliverabilityScore(p SenderProfile) ScoreReport {
	report := ScoreReport{Score: 100, Findings: make([]string, 0)}
	deduct := func(n int, finding string) {
		report.Score -= n
		report.Findings = append(report.Findings, finding)
	}

	if !p.HasSPF {
		deduct(20, "no SPF record")
	}
	if !p.HasDKIM {
		deduct(20, "no DKIM signature")
	}
	if !p.HasDMARC {
		deduct(10, "no DMARC policy")
	}
	if domain := senderDomain(p.SenderEmail); domain != "" && p.UsesRelay {
		for _, d := range freemailDomains {
			if domain == d {
				deduct(15, "relay sends from a free mailbox domain")
				break
			}
		}
	}
	if p.Subject != "" || p.Body != "" {
		spam := SpamScore(p.Subject, p.Body)
		if penalty := spam.Score / 3; penalty > 0 {
			deduct(penalty, fmt.Sprintf("content spam score %d", spam.Score))
		}
	}
	report.Score = max(report.Score, 0)

	switch {
	case report.Score >= 85:
		report.Rating = "excellent"
	case report.Score >= 65:
		report.Rating = "good"
	case report.Score >= 40:
		report.Rating = "fair"
	default:
		report.Rating = "poor"
	}
	return report
}

// ScoreContent runs both scorers for one request
func ScoreContent(req *dto.ScoreRequest) *dto.ScoreResponse {
	spam := SpamScore(req.Subject, req.Body)
	deliverability := DeliverabilityScore(SenderProfile{
		SenderEmail: req.SenderEmail,
		HasSPF:      req.HasSPF,
		HasDKIM:     req.HasDKIM,
		HasDMARC:    req.HasDMARC,
		UsesRelay:   req.UsesRelay,
		Subject:     req.Subject,
		Body:        req.Body,
	})
	return &dto.ScoreResponse{
		Spam:           dto.ScoreReportDTO{Score: spam.Score, Rating: spam.Rating, Findings: spam.Findings},
		Deliverability: dto.ScoreReportDTO{Score: deliverability.Score, Rating: deliverability.Rating, Findings: deliverability.Findings},
	}
}

func senderDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func upperRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
