// ABOUTME: Website review abilities: single-page review and multi-page deep review.
// ABOUTME: Extracts page content, then asks the completion API to assess it.

package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sable-bot/sable/internal/assist"
)

const reviewSystemPrompt = "You review websites. Assess the page's purpose, content quality, " +
	"and trustworthiness. Be direct and concrete; a few short paragraphs at most."

const deepReviewSystemPrompt = "You review websites in depth. You are given the main page and " +
	"several pages from the same site. Assess the site's purpose, content quality, and " +
	"trustworthiness as a whole. Be direct and concrete."

// ReviewURL satisfies platform.Reviewer: extract one page and review it.
func (e *Engine) ReviewURL(ctx context.Context, pageURL string) (string, error) {
	page, err := e.assist.WebExtract(ctx, pageURL, false)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", pageURL, err)
	}

	prompt := fmt.Sprintf("Review this website.\n\nURL: %s\nTitle: %s\n\nContent:\n%s",
		page.URL, page.Title, page.Content)
	reply, err := e.assist.Chat(ctx, []assist.ChatMessage{
		{Role: "system", Content: reviewSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("reviewing %s: %w", pageURL, err)
	}
	return fmt.Sprintf("**Review of %s**\n\n%s", pageURL, strings.TrimSpace(reply)), nil
}

// DeepReviewURL satisfies platform.DeepReviewer: extract the page plus a few
// same-site links and synthesize one review across them.
func (e *Engine) DeepReviewURL(ctx context.Context, pageURL string) (string, error) {
	root, err := e.assist.WebExtract(ctx, pageURL, true)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", pageURL, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Main page %s (%s):\n%s\n", root.URL, root.Title, root.Content)

	followed := 0
	for _, link := range sameSiteLinks(pageURL, root.Links, e.cfg.DeepReviewMaxLinks) {
		sub, err := e.assist.WebExtract(ctx, link, false)
		if err != nil {
			e.logger.Warn("deep review skipping page", "url", link, "error", err)
			continue
		}
		fmt.Fprintf(&b, "\nLinked page %s (%s):\n%s\n", sub.URL, sub.Title, sub.Content)
		followed++
	}
	e.logger.Info("deep review extracted", "url", pageURL, "linked_pages", followed)

	reply, err := e.assist.Chat(ctx, []assist.ChatMessage{
		{Role: "system", Content: deepReviewSystemPrompt},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		return "", fmt.Errorf("deep reviewing %s: %w", pageURL, err)
	}
	return fmt.Sprintf("**Deep review of %s** (%d linked pages)\n\n%s",
		pageURL, followed, strings.TrimSpace(reply)), nil
}

// sameSiteLinks filters links to the base URL's host, deduplicated, excluding
// the base page itself, capped at max.
func sameSiteLinks(baseURL string, links []string, max int) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := map[string]bool{baseURL: true}
	var out []string
	for _, link := range links {
		if len(out) >= max {
			break
		}
		u, err := url.Parse(link)
		if err != nil || u.Host != base.Host {
			continue
		}
		u.Fragment = ""
		clean := u.String()
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}
