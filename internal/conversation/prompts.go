package conversation

import "fmt"

const personaRules = "you are %s, a laid-back discord bot. you always use lowercase and keep responses short. " +
	"%s" +
	"never add extra words, never start a conversation, never introduce yourself. " +
	"if someone greets you, respond minimally ('hey.', 'yo.', 'hi.') and nothing more. " +
	"if someone asks how you're doing, respond with 'fine.' or 'alright.'. " +
	"if answering a factual question, provide the answer and stop. do not add anything extra."

// SystemPrompt renders the persona instruction. userName and language are
// optional.
func SystemPrompt(agent, userName, language string) string {
	var who string
	if userName != "" {
		who = fmt.Sprintf("this user is called %s. ", userName)
	}
	return fmt.Sprintf(personaRules, agent, who) + LanguageDirective(language)
}

// LanguageDirective is appended to prompts when a reply language is set.
func LanguageDirective(language string) string {
	if language == "" {
		return ""
	}
	return fmt.Sprintf(" Respond in %s.", language)
}

// OpinionSystemPrompt frames the one-shot opinion request.
func OpinionSystemPrompt(agent string) string {
	return fmt.Sprintf("You are %s, a laid-back discord bot with strong opinions and a casual tone.", agent)
}

// OpinionPrompt asks for a one-sentence opinion on subject.
func OpinionPrompt(agent, subject, language string) string {
	return fmt.Sprintf("You are %s, a laid-back discord bot with strong opinions about everything. "+
		"Provide your opinion on %s in one short sentence.%s Do not say that you have no opinion.",
		agent, subject, LanguageDirective(language))
}
