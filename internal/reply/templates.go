package reply

import (
	"fmt"
	"strings"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/email"
)

const (
	defaultTopic        = "您的请求"
	defaultIntent       = "未知"
	defaultUrgency      = "normal"
	defaultRequiredInfo = "更多详细信息"
	maxTodoItems        = 5
)

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func englishAutoReply(topic, summary, signature string) string {
	ack := "We will process your request accordingly."
	if summary != "" {
		ack = email.TruncateRunes(summary, 200)
	}
	return fmt.Sprintf(`Dear Sender,

Thank you for your email regarding "%s".

We have received and reviewed your message. %s

We will get back to you soon.

Best regards,
AI Assistant
%s`, topic, ack, signature)
}

func chineseAutoReply(topic, details, ticket, signature string) string {
	return fmt.Sprintf(`您好！

感谢您关于"%s"的邮件。我们已收到并仔细审阅了您的来信。

%s

我们的处理流程如下：
1. 邮件内容分析和分类（已完成）
2. 相关部门分配和评估（进行中）
3. 制定详细解决方案（24小时内）
4. 专业回复和后续跟进（48小时内）

在处理您的请求期间，如果您有任何补充信息或紧急情况，请随时回复此邮件。我们会优先处理您的后续来信。

我们承诺为您提供最专业、最及时的服务。感谢您对我们的信任与支持。

此致
敬礼！

AI智能助手
客户服务中心
%s

---
邮件处理编号：%s
如需查询处理进度，请在回复中提供此编号。`, topic, details, signature, ticket)
}

// autoReplyDetails restates the classification, summary and todo items.
func autoReplyDetails(a analyzer.AnalysisResult) string {
	intent := orDefault(string(a.Intent), defaultIntent)
	urgency := orDefault(string(a.Urgency), defaultUrgency)

	parts := []string{fmt.Sprintf("经过我们的AI智能分析系统处理，您的邮件已被识别为'%s'类型。", intent)}

	if a.ChineseSummary != "" {
		parts = append(parts, "邮件内容摘要："+email.TruncateRunes(a.ChineseSummary, 300))
	}

	if len(a.TodoItems) > 0 {
		parts = append(parts, "我们已为您的请求生成以下处理要点：")
		for i, item := range a.TodoItems {
			if i == maxTodoItems {
				break
			}
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, item))
		}
	}

	switch urgency {
	case string(analyzer.UrgencyHigh):
		parts = append(parts, "⚠️ 重要提醒：您的邮件已被标记为高优先级，我们会加急处理。")
	case string(analyzer.UrgencyMedium):
		parts = append(parts, "📋 处理说明：您的邮件为中等优先级，我们会在标准时间内处理。")
	}

	return strings.Join(parts, "\n\n")
}

func englishInfoRequest(topic, requiresInfo, signature string) string {
	return fmt.Sprintf(`Dear Sender,

Thank you for your email regarding "%s".

To better assist you, we need some additional information: %s

Could you please provide these details so we can give you a more accurate response?

Best regards,
AI Assistant
%s`, topic, requiresInfo, signature)
}

func chineseInfoRequest(topic, details, requiredList, signature string) string {
	return fmt.Sprintf(`您好！

感谢您关于"%s"的邮件。我们已仔细审阅了您的来信内容。

%s

为了能够为您提供最准确、最有针对性的解决方案，我们需要您提供以下补充信息：

%s

请您在回复邮件时详细提供上述信息。我们的技术团队会根据您提供的具体情况，为您制定个性化的解决方案。

如果您在提供信息时遇到任何困难，或者有其他相关问题，请随时与我们联系。我们承诺会在收到您的详细信息后24小时内给出专业回复。

此致
敬礼！

AI智能助手
技术支持团队
%s

---
本邮件由AI智能系统自动生成，如需人工客服协助，请在邮件中注明"转人工客服"。`, topic, details, requiredList, signature)
}

// infoRequestDetails restates intent and urgency with an urgency note.
func infoRequestDetails(a analyzer.AnalysisResult) string {
	intent := orDefault(string(a.Intent), defaultIntent)
	urgency := orDefault(string(a.Urgency), defaultUrgency)

	text := fmt.Sprintf("根据我们的AI智能分析系统判断，您的邮件属于'%s'类型，紧急程度为'%s'。", intent, urgency)
	switch urgency {
	case string(analyzer.UrgencyHigh):
		text += "鉴于此事的紧急性，我们已将您的邮件标记为高优先级处理。"
	case string(analyzer.UrgencyLow):
		text += "我们会按照标准流程为您处理此事。"
	}
	return text
}

// formatRequiredInfo renders requiresInfo as bullets, one per comma
// separated item.
func formatRequiredInfo(requiresInfo string) string {
	if requiresInfo == "" {
		return "• " + defaultRequiredInfo
	}
	if !strings.Contains(requiresInfo, ",") {
		return "• " + requiresInfo
	}

	var bullets []string
	for _, item := range strings.Split(requiresInfo, ",") {
		if item = strings.TrimSpace(item); item != "" {
			bullets = append(bullets, "• "+item)
		}
	}
	return strings.Join(bullets, "\n")
}
