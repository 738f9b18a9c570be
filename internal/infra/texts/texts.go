// Пакет texts — обработка текстов новостей: очистка HTML из описаний лент
// и рендер HTML-сообщения для Telegram.
package texts

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// stripPolicy вырезает все теги, оставляя только текст. Политика иммутабельна
// после создания и безопасна для конкурентного использования.
var stripPolicy = bluemonday.StrictPolicy()

// StripHTML удаляет из строки HTML-разметку и декодирует сущности (&amp; и т.п.).
// Пробельные хвосты обрезаются.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// FormatNewsMessage собирает HTML-сообщение для отправки в Telegram:
// заголовок, краткое содержание и ссылка на источник. Заголовок и summary
// экранируются, ссылка подставляется в href как есть.
func FormatNewsMessage(title, summary, link, source string) string {
	return fmt.Sprintf(
		"\n📌 <i><b>%s</b></i>\n\n%s\n\n🔗 <b>%s <a href=\"%s\">(Перейти к источнику)</a></b>\n",
		html.EscapeString(title),
		html.EscapeString(summary),
		html.EscapeString(source),
		link,
	)
}
