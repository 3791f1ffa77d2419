// Package prompt builds the interviewer persona prompt for a session.
package prompt

import "strings"

const behaviorPolicy = `Your task:
1. Play the interviewer and ask questions grounded in the CV (and the position description, if provided).
2. You may draw on the suggested question list (if provided) or come up with your own questions based on the candidate's CV.
3. Ask one question at a time and wait for the candidate's answer before continuing.
4. Give feedback or probing follow-up questions based on the candidate's answers.
5. Always remain professional and serious, but constructive.
6. Begin by greeting the candidate and briefly introducing this interview session.`

// ComposeSystemPrompt renders the system prompt from the session's document
// contents. cv is mandatory; jd and questions are nil when absent. The result
// is a pure function of its inputs and is recomputed on every model call;
// it is never persisted as a conversation message.
func ComposeSystemPrompt(cv string, jd, questions *string) string {
	var b strings.Builder

	b.WriteString("You are a professional interviewer conducting a simulated job interview.\n\n")

	if jd != nil {
		b.WriteString("Here is the position description (JD):\n")
		b.WriteString(*jd)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Note: no position description was provided. Act as the interviewer for the role that best fits the candidate's experience in the CV.\n\n")
	}

	b.WriteString("Here is the candidate's CV:\n")
	b.WriteString(cv)
	b.WriteString("\n\n")

	if questions != nil {
		b.WriteString("Here is a list of suggested questions for this interview. You may use it, or deviate from it when the conversation calls for it:\n")
		b.WriteString(*questions)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Note: no suggested question list was provided. Devise your own technical and behavioral questions based on the candidate's CV and the common requirements of the field.\n\n")
	}

	b.WriteString(behaviorPolicy)
	return b.String()
}
