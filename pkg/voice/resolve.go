package voice

import (
	"net/url"
	"strings"

	"github.com/deskvox/voicepipe/pkg/settings"
	"github.com/deskvox/voicepipe/pkg/stt"
	"github.com/deskvox/voicepipe/pkg/tts"
)

// Settings keys read by the resolvers. The same OpenAI credential and
// endpoint serve both directions.
const (
	KeySTTBackend                = "stt_backend"
	KeySTTModel                  = "stt_model"
	KeySTTLanguage               = "stt_language"
	KeySTTPrompt                 = "stt_prompt"
	KeySTTResponseFormat         = "stt_response_format"
	KeySTTTemperature            = "stt_temperature"
	KeySTTTimestampGranularities = "stt_timestamp_granularities"
	KeySTTTranslate              = "stt_translate"

	KeyTTSBackend          = "tts_backend"
	KeyTTSVoice            = "tts_voice"
	KeyTTSModel            = "tts_model"
	KeyTTSSpeed            = "tts_speed"
	KeyTTSStreamingLatency = "tts_streaming_latency"
	KeyTTSOutputFormat     = "tts_output_format"

	KeyOpenAIAPIKey      = "openai_api_key"
	KeyOpenAIBaseURL     = "openai_base_url"
	KeyDeepgramAPIKey    = "deepgram_api_key"
	KeyDeepgramBaseURL   = "deepgram_base_url"
	KeyElevenLabsAPIKey  = "elevenlabs_api_key"
	KeyElevenLabsBaseURL = "elevenlabs_base_url"
)

// ResolveSpeechToText builds a transcription provider config from settings.
//
// Validation order: backend (unknown values fall back to the default),
// credential (blank -> ErrNotConfigured), endpoint override (unparseable ->
// EndpointError), then the optional tunables verbatim. A blank endpoint
// means the backend default; blank tunables mean unset and are never an
// error.
func ResolveSpeechToText(store settings.Store) (*stt.Config, error) {
	cfg := stt.DefaultConfig()
	cfg.Backend = sttBackend(store.Get(KeySTTBackend))

	credKey, urlKey := KeyOpenAIAPIKey, KeyOpenAIBaseURL
	if cfg.Backend == stt.BackendDeepgram {
		credKey, urlKey = KeyDeepgramAPIKey, KeyDeepgramBaseURL
	}

	cfg.APIKey = store.Get(credKey)
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	if raw := store.Get(urlKey); raw != "" {
		if err := checkEndpoint(raw); err != nil {
			return nil, err
		}
		cfg.BaseURL = raw
	}

	cfg.Model = store.Get(KeySTTModel)
	cfg.Language = store.Get(KeySTTLanguage)
	cfg.Prompt = store.Get(KeySTTPrompt)
	cfg.ResponseFormat = store.Get(KeySTTResponseFormat)
	cfg.Temperature = store.Get(KeySTTTemperature)
	cfg.TimestampGranularities = store.Get(KeySTTTimestampGranularities)
	cfg.Translate = parseFlag(store.Get(KeySTTTranslate))

	return cfg, nil
}

// ResolveTextToSpeech builds a synthesis provider config from settings.
//
// Validation order matches ResolveSpeechToText, with one extra step: the
// ElevenLabs backend requires a voice, so a blank voice yields
// ErrMissingVoice there. Preset voice names are resolved to voice IDs; the
// OpenAI backend falls back to its default voice when blank.
func ResolveTextToSpeech(store settings.Store) (*tts.Config, error) {
	cfg := tts.DefaultConfig()
	cfg.Backend = ttsBackend(store.Get(KeyTTSBackend))

	credKey, urlKey := KeyOpenAIAPIKey, KeyOpenAIBaseURL
	if cfg.Backend == tts.BackendElevenLabs {
		credKey, urlKey = KeyElevenLabsAPIKey, KeyElevenLabsBaseURL
	}

	cfg.APIKey = store.Get(credKey)
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	if raw := store.Get(urlKey); raw != "" {
		if err := checkEndpoint(raw); err != nil {
			return nil, err
		}
		cfg.BaseURL = raw
	}

	voice := store.Get(KeyTTSVoice)
	if cfg.Backend == tts.BackendElevenLabs {
		if voice == "" {
			return nil, ErrMissingVoice
		}
		voice = tts.ResolveElevenLabsVoice(voice)
	}
	cfg.VoiceID = voice

	cfg.ModelID = store.Get(KeyTTSModel)
	cfg.Speed = store.Get(KeyTTSSpeed)
	cfg.StreamingLatency = store.Get(KeyTTSStreamingLatency)
	if format := store.Get(KeyTTSOutputFormat); format != "" {
		cfg.OutputFormat = tts.Encoding(format)
	}

	return cfg, nil
}

func sttBackend(raw string) stt.Backend {
	switch b := stt.Backend(normalize(raw)); b {
	case stt.BackendOpenAI, stt.BackendDeepgram:
		return b
	default:
		return stt.DefaultBackend
	}
}

func ttsBackend(raw string) tts.Backend {
	switch b := tts.Backend(normalize(raw)); b {
	case tts.BackendOpenAI, tts.BackendElevenLabs:
		return b
	default:
		return tts.DefaultBackend
	}
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// checkEndpoint accepts absolute http(s) URLs only. Values like
// "localhost:8080" parse but with the host in the scheme, so the host check
// catches them too.
func checkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &EndpointError{Value: raw}
	}
	return nil
}

func parseFlag(raw string) bool {
	switch normalize(raw) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
