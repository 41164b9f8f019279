package safety

// Fixed replies. None of these are generated, so the crisis path works with
// the completion provider unreachable.
const (
	CrisisSupportMessage = "It sounds like you may be going through something really painful, and you do not have to face it alone. " +
		"If you are in immediate danger, please call your local emergency number now. " +
		"In the United States you can call or text 988 to reach the Suicide & Crisis Lifeline at any hour. " +
		"Outside the US, findahelpline.com lists free, confidential helplines in your country. " +
		"Talking with a licensed counselor, a doctor, or a pastor you trust can also help."

	RefusalMessage = "I can't help with that request. I'm here to help you study Scripture, " +
		"so feel free to ask about a passage, a theme, or a question of interpretation."

	RephraseMessage = "I wasn't able to give a suitable answer to that. Could you rephrase your question, " +
		"perhaps pointing to a specific passage or topic?"
)

var crisisFollowUps = []string{
	"Can you show me passages about God's comfort in hard times?",
}

// CrisisFollowUps returns a copy so callers may keep it on a message.
func CrisisFollowUps() []string {
	return append([]string(nil), crisisFollowUps...)
}
