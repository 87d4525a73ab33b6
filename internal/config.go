package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BufferSize           int           `env:"BUFFER_SIZE,default=128"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`

	OllamaURL                 string        `env:"OLLAMA_URL,required=true"`
	OllamaModel               string        `env:"OLLAMA_MODEL,default=llama3.2"`
	TranslationTimeout        time.Duration `env:"TRANSLATION_TIMEOUT,default=30s"`
	MaxConcurrentTranslations int           `env:"MAX_CONCURRENT_TRANSLATIONS,default=8"`

	HistoryLimit     int           `env:"HISTORY_LIMIT,default=50"`
	ArchiveRetention time.Duration `env:"ARCHIVE_RETENTION,default=24h"`
	ArchivePageSize  int           `env:"ARCHIVE_PAGE_SIZE,default=20"`

	CensoredWords   string `env:"CENSORED_WORDS"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
