package translate

import "fmt"

// ResultEmail renders the notification that carries a translation back to
// the sender. The original body is included in full.
func ResultEmail(r Result, originalContent string) (subject, body string) {
	subject = "翻译结果: " + r.TranslatedSubject
	body = fmt.Sprintf(`您好，

以下是您邮件的翻译结果：

原始主题：%s
翻译后主题：%s

原始内容：
%s

翻译后内容：
%s

翻译语言：%s -> %s

此邮件由智能翻译系统自动发送。
`, r.OriginalSubject, r.TranslatedSubject, originalContent, r.TranslatedContent, r.OriginalLanguage, r.TargetLanguage)
	return subject, body
}
