package analyzer

import (
	"strings"
)

const promptHeader = `你是一个邮件助手，当我给你邮件的时候，你需要根据我给你的指令（如有）：
1. 提取出这个邮件是要干什么的，目前的进展有哪些（中文回答）
2. 判断是否需要回信（中文回答）
3. 如果需要我提供的信息，可以先问我，我会提供。当你拿到可以写回信的信息的时候，你可以开始写作。
4. 如果需要回信，请给出回信的具体内容。（英文）
我也会给你提要求，需要你帮我写邮件。
`

const promptFormat = "请严格按照以下JSON格式返回分析结果，必须用```json ```包围：\n\n" +
	"```json\n" +
	`{
  "intent": "邮件意图（inquiry/request/complaint/meeting/order/support/other）",
  "urgency": "紧急程度（low/medium/high）",
  "can_auto_reply": "是否可以自动回复（true/false）",
  "chinese_summary": "邮件的中文摘要和目的分析",
  "todo_items": ["需要完成的事项列表（需要尽可能详细）"],
  "main_topic": "主要话题",
  "requires_info": "如果不能自动回复，需要什么额外信息，需要尽可能详细",
  "sentiment": "情感倾向（positive/neutral/negative）",
  "need_reply": "是否需要回信（true/false）",
  "reply_content": "如果需要回信，提供英文回信内容，如果不需要则为空字符串"
}` + "\n```\n\n" +
	"只返回JSON格式的内容，用```json ```包围，不要其他文字。"

// BuildPrompt renders the single analysis prompt for content. A non-empty
// instruction is passed along as the user's own request.
func BuildPrompt(content, language, instruction string) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	if instruction != "" {
		b.WriteString("\n我的指令：\n")
		b.WriteString(instruction)
		b.WriteString("\n")
	}

	b.WriteString("\n邮件语言：")
	b.WriteString(language)
	b.WriteString("\n\n邮件内容：\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(promptFormat)
	return b.String()
}
