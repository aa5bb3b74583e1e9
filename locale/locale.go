// Package locale holds the user-facing text the relay sends on its own
// behalf: the assistant persona and every fallback reply.
package locale

// Supported locale tags.
const (
	English = "en"
	Arabic  = "ar"
)

// Catalog is the set of strings for one locale.
type Catalog struct {
	// SystemPrompt is the persona sent ahead of every user message.
	SystemPrompt string

	NotConfigured         string
	Rephrase              string
	InvalidResponse       string
	TryLater              string
	TooLong               string
	TechnicalDifficulties string
	Generic               string

	// NoResponse replaces an empty reply at delivery time.
	NoResponse string
}

var catalogs = map[string]Catalog{
	English: {
		SystemPrompt:          "You are a helpful and friendly AI assistant. Keep your responses concise and conversational, suitable for a Facebook Messenger chat.",
		NotConfigured:         "Sorry, the AI service is not configured. Please contact the page administrator.",
		Rephrase:              "I'm here to help! Could you please rephrase your question?",
		InvalidResponse:       "Sorry, I received an invalid response. Please try again.",
		TryLater:              "Sorry, I'm having trouble processing your message right now. Please try again later.",
		TooLong:               "Sorry, I'm taking too long to respond. Please try again.",
		TechnicalDifficulties: "Sorry, I'm having technical difficulties. Please try again later.",
		Generic:               "Sorry, something went wrong. Please try again.",
		NoResponse:            "Sorry, I couldn't generate a response. Please try again.",
	},
	Arabic: {
		SystemPrompt:          "أنت مساعد ذكي ودود ومفيد. اجعل ردودك موجزة وبأسلوب محادثة، مناسبة لدردشة فيسبوك ماسنجر. أجب باللغة العربية.",
		NotConfigured:         "عذراً، خدمة الذكاء الاصطناعي غير مهيأة حالياً. يرجى التواصل مع مسؤول الصفحة.",
		Rephrase:              "أنا هنا للمساعدة! هل يمكنك إعادة صياغة سؤالك من فضلك؟",
		InvalidResponse:       "عذراً، تلقيت رداً غير صالح. يرجى المحاولة مرة أخرى.",
		TryLater:              "عذراً، أواجه مشكلة في معالجة رسالتك الآن. يرجى المحاولة لاحقاً.",
		TooLong:               "عذراً، استغرقت وقتاً طويلاً في الرد. يرجى المحاولة مرة أخرى.",
		TechnicalDifficulties: "عذراً، أواجه صعوبات تقنية. يرجى المحاولة لاحقاً.",
		Generic:               "عذراً، حدث خطأ ما. يرجى المحاولة مرة أخرى.",
		NoResponse:            "عذراً، لم أتمكن من إنشاء رد. يرجى المحاولة مرة أخرى.",
	},
}

// For returns the catalog for tag, falling back to English for unknown tags.
func For(tag string) Catalog {
	if c, ok := catalogs[tag]; ok {
		return c
	}
	return catalogs[English]
}

// Supported reports the known locale tags.
func Supported() []string {
	return []string{English, Arabic}
}
