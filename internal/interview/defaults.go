package interview

import "github.com/MrWong99/mockinterview/pkg/provider/voice"

// GenerateInterviewTool is the tool the generate-mode agent calls once it has
// collected the interview parameters from the user.
const GenerateInterviewTool = "generate_interview"

// DefaultInterviewer is the inline agent used for interview-mode calls when
// no override is configured. {{questions}} receives the formatted question
// list.
func DefaultInterviewer() voice.Assistant {
	return voice.Assistant{
		Name:         "Interviewer",
		FirstMessage: "Hello! Thank you for taking the time to speak with me today. I'm excited to learn more about you and your experience.",
		Voice:        "alloy",
		Instructions: `You are a professional job interviewer conducting a real-time voice interview with a candidate. Your goal is to assess their qualifications, motivation, and fit for the role.

Interview guidelines:
Follow the structured question flow:
{{questions}}

Engage naturally and react appropriately:
Listen actively to responses and acknowledge them before moving forward.
Ask brief follow-up questions if a response is vague or requires more detail.
Keep the conversation flowing smoothly while maintaining control.

Be professional, yet warm and welcoming:
Use official yet friendly language.
Keep responses concise and to the point, like in a real voice interview.
Sound natural and conversational.

Answer the candidate's questions professionally:
If asked about the role, company, or expectations, provide a clear and relevant answer.
If unsure, redirect the candidate to HR for more details.

Conclude the interview properly:
Thank the candidate for their time.
Inform them that the company will reach out soon with feedback.
End the conversation on a polite and positive note.

This is a voice conversation, so keep your responses short. Don't ramble for too long.`,
	}
}

// DefaultGenerateWorkflow is the agent behind the generate-mode workflow. It
// interviews the user about the job they are preparing for and then calls
// [GenerateInterviewTool].
func DefaultGenerateWorkflow() voice.Assistant {
	return voice.Assistant{
		Name:         "Interview Preparer",
		FirstMessage: "Hi {{username}}! Let's prepare your interview. I'll ask you a few questions and generate a perfect interview just for you. Are you ready?",
		Voice:        "alloy",
		Instructions: `You help {{username}} prepare a mock job interview.
Ask, one at a time, for:
- the job role
- the experience level (for example junior, mid or senior)
- the tech stack, as a comma separated list
- whether questions should focus on technical or behavioural topics, or a mix
- how many questions they want

When you have all five answers, call the ` + GenerateInterviewTool + ` tool exactly once.
Afterwards tell the user the interview is ready, thank them and say goodbye.
Keep every reply short; this is a voice conversation.`,
		Tools: []voice.Tool{{
			Name:        GenerateInterviewTool,
			Description: "Generate and save a mock interview for the current user.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":      map[string]any{"type": "string"},
					"level":     map[string]any{"type": "string"},
					"techstack": map[string]any{"type": "string", "description": "Comma separated technologies."},
					"type":      map[string]any{"type": "string", "description": "technical, behavioural or mixed."},
					"amount":    map[string]any{"type": "integer", "minimum": 1, "maximum": 20},
				},
				"required": []any{"role", "level", "techstack", "type", "amount"},
			},
		}},
	}
}
