package conversation

import "fmt"

// Messages holds every canned text the relay sends.
type Messages struct {
	Greeting      string
	RestartIntro  string
	ClearAck      string
	Pong          string
	ErrorPrefix   string
	RestartButton string
	ClearButton   string
}

// DefaultMessages returns the stock Russian-language texts.
func DefaultMessages() Messages {
	return Messages{
		Greeting: "Здравствуй, я Илон Маск, знаменитый предприниматель и инноватор. " +
			"Сейчас я онлайн, и у тебя есть время расспросить меня о том, что тебя интересует. " +
			"Отвечаю кратко и по делу.",
		RestartIntro: "Отлично, перезапуск! Это значит, что мы возвращаемся к основам. " +
			"Смотрим на проблему с чистого листа, как будто решаем ее в первый раз!",
		ClearAck:      "Начинаем с чистого листа.",
		Pong:          "pong",
		ErrorPrefix:   "Ошибка при обращении к Gemini API",
		RestartButton: "🆙 ПЕРЕЗАПУСТИТЬ!",
		ClearButton:   "🧹 Очистить контекст",
	}
}

// WarningMarker starts every generation error message.
const WarningMarker = "⚠️"

// FormatFailure renders a generation failure for the chat.
func (m Messages) FormatFailure(diagnostic string) string {
	return fmt.Sprintf("%s %s:\n%s", WarningMarker, m.ErrorPrefix, diagnostic)
}
