// Package i18n renders user-facing messages in the language a client asks for.
// Messages live in embedded locales/*.json files, one per language.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	bundle    *i18n.Bundle
	supported []language.Tag // default first
	matcher   language.Matcher
)

// Init loads every embedded locale and makes lang the fallback language.
func Init(lang string) error {
	def, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(def)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)
	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return fmt.Errorf("list locales: %w", err)
	}
	for _, f := range files {
		if _, err := b.LoadMessageFileFS(localeFS, f); err != nil {
			return fmt.Errorf("load locale %s: %w", f, err)
		}
		slog.Debug("loaded locale file", "file", f)
	}

	tags := []language.Tag{def}
	for _, t := range b.LanguageTags() {
		if t != def {
			tags = append(tags, t)
		}
	}
	bundle, supported, matcher = b, tags, language.NewMatcher(tags)
	return nil
}

// Negotiate picks the supported language that best fits an Accept-Language
// header, or the default when nothing matches.
func Negotiate(acceptLanguage string) language.Tag {
	if len(supported) == 0 {
		return language.Und
	}
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return supported[0]
	}
	_, idx, conf := matcher.Match(prefs...)
	if conf == language.No {
		return supported[0]
	}
	return supported[idx]
}

// WithLanguage returns a context whose messages render in tag.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, ctxKey{}, i18n.NewLocalizer(bundle, tag.String()))
}

func localizer(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return i18n.NewLocalizer(bundle)
}

// Localize renders msgID with optional template data. An unknown id renders as itself.
func Localize(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Plural renders the plural form of msgID for count. The template sees .Count.
func Plural(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := localizer(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}
