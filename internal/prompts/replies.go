package prompts

// Fixed replies spoken when a stage cannot produce one. English only.
const (
	// NotResponding is returned when the backend stays unavailable after
	// the retry.
	NotResponding = "Sorry, the assistant is not responding right now."

	// NotUnderstood is returned when the plan cannot be parsed.
	NotUnderstood = "Sorry, I didn't understand that."

	// IterationApology ends a classic turn that hit the iteration cap.
	IterationApology = "I'm sorry, I couldn't complete the task after multiple attempts."

	// EmptyResponseNudge is injected when the model returns no content
	// after tool calls. It gives the model one more chance to answer.
	EmptyResponseNudge = "You executed tool calls but did not provide a response to the user. Please respond now."

	// EmptyResponseFallback is spoken when the model stays silent even
	// after the nudge.
	EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."
)
