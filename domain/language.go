package domain

import (
	"strings"

	"polyglot-chat/errors"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Language is a reading language a participant can choose.
// The set is closed: anything outside Languages is rejected at the boundary.
type Language string

const (
	English  Language = "english"
	Hindi    Language = "hindi"
	Spanish  Language = "spanish"
	French   Language = "french"
	German   Language = "german"
	Chinese  Language = "chinese"
	Japanese Language = "japanese"
	Korean   Language = "korean"
)

var Languages = []Language{English, Hindi, Spanish, French, German, Chinese, Japanese, Korean}

var tags = map[Language]language.Tag{
	English:  language.English,
	Hindi:    language.Hindi,
	Spanish:  language.Spanish,
	French:   language.French,
	German:   language.German,
	Chinese:  language.Chinese,
	Japanese: language.Japanese,
	Korean:   language.Korean,
}

var titleCaser = cases.Title(language.English)

// ParseLanguage accepts any casing and surrounding blanks.
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if !lo.Contains(Languages, l) {
		return "", errors.ErrInvalidLanguage
	}
	return l, nil
}

// DisplayName is the human form used in translation prompts, e.g. "Spanish".
func (l Language) DisplayName() string {
	return titleCaser.String(string(l))
}

// LanguageFromISO6391 maps a two letter code such as "es" to a supported language.
func LanguageFromISO6391(code string) (Language, bool) {
	return lo.FindKeyBy(tags, func(_ Language, tag language.Tag) bool {
		return tag.String() == code
	})
}

// Tag is the BCP 47 tag of the language, language.Und when unknown.
func (l Language) Tag() language.Tag {
	if tag, ok := tags[l]; ok {
		return tag
	}
	return language.Und
}
