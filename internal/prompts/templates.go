package prompts

import "fmt"

// PartyPlanner is the capability used to request action plans.
const PartyPlanner = "party_planner"

// Default returns the built-in template table.
//
// System templates are rendered with (context, ""); user templates with
// (input, context). For planning the context is the action catalog
// description, for actions it is the step description.
func Default() *Registry {
	return NewRegistry(map[Key]Template{
		// vision
		{"vision_ecommerce", RoleSystem}: Static("You are a product description assistant."),
		{"vision_ecommerce", RoleUser}: Rendered(func(input, _ string) string {
			return fmt.Sprintf("Describe the product shown in the image. Include details about its mood, colors, and potential use cases.\n\nImage: %s", input)
		}),
		{"vision_generic", RoleSystem}: Static("You are an image analysis assistant."),
		{"vision_generic", RoleUser}: Rendered(func(input, _ string) string {
			return fmt.Sprintf("Provide a detailed analysis of what is shown in this image, including key elements and their relationships.\n\nImage: %s", input)
		}),
		{"vision_tech_documentation", RoleSystem}: Static("You are a technical documentation analyzer."),
		{"vision_tech_documentation", RoleUser}: Rendered(func(input, _ string) string {
			return fmt.Sprintf("Analyze this technical documentation image, focusing on its key components and technical details.\n\nImage: %s", input)
		}),
		{"vision_code", RoleSystem}: Static("You are a code analysis assistant."),
		{"vision_code", RoleUser}: Rendered(func(input, _ string) string {
			return fmt.Sprintf("Analyze the provided code block, explaining its functionality, implementation details, and intended purpose.\n\nCode: %s", input)
		}),

		// query translation
		{"google_query_translator", RoleSystem}: Static(googleQueryTranslatorSystem),
		{"google_query_translator", RoleUser}: Rendered(func(input, _ string) string {
			return fmt.Sprintf("### Query\n%s\n\n### Translated Query\n", input)
		}),

		// answering
		{"answer", RoleSystem}: Static(answerSystem),
		{"answer", RoleUser}:   Rendered(answerUser),

		// planning
		{PartyPlanner, RoleSystem}: Rendered(func(catalog, _ string) string {
			return fmt.Sprintf(partyPlannerSystem, catalog)
		}),
		{PartyPlanner, RoleUser}: Rendered(func(input, _ string) string {
			return fmt.Sprintf("### Input\n%s\n\n### Action Plan\n", input)
		}),

		// plan actions
		{"optimize_query", RoleSystem}:         Static("You are a search query optimizer. Rewrite the user's input into a short, precise full-text search query. Reply with the query only."),
		{"optimize_query", RoleUser}:           Rendered(stepUser),
		{"generate_queries", RoleSystem}:       Static(`You generate alternative search queries for a user's request. Reply only with a JSON object of the form {"queries": ["<query>", ...]} containing at most three queries.`),
		{"generate_queries", RoleUser}:         Rendered(stepUser),
		{"describe_input_code", RoleSystem}:    Static("You are a code analysis assistant. Describe what the code contained in the user's input does, in plain language, in at most one paragraph."),
		{"describe_input_code", RoleUser}:      Rendered(stepUser),
		{"ask_followup_questions", RoleSystem}: Static("You are a support agent. The user's request is ambiguous. Ask at most two short clarifying questions."),
		{"ask_followup_questions", RoleUser}:   Rendered(stepUser),
		{"give_reply", RoleSystem}:             Static(answerSystem),
		{"give_reply", RoleUser}: Rendered(func(input, description string) string {
			return answerUser(input, "Previous assistant messages in this conversation. Task: "+description)
		}),
	})
}

func stepUser(input, description string) string {
	return fmt.Sprintf("### Task\n%s\n\n### Input\n%s\n", description, input)
}

func answerUser(question, context string) string {
	return fmt.Sprintf("### Context\n%s\n\n### Question\n%s\n\n", context, question)
}

const googleQueryTranslatorSystem = "You are a Google search query translator. " +
	"Your job is to translate a user's search query (### Query) into a more refined search query that will yield better results (### Translated Query). " +
	`Your reply must be in the following format: {"query": "<translated_query>"}. As you can see, the translated query must be a JSON object with a single key, 'query', whose value is the translated query. ` +
	"Always reply with the most relevant and concise query possible in a valid JSON format, and nothing more."

const answerSystem = `You are a AI support agent. You are helping a user with his question around the product.
Your task is to provide a solution to the user's question.
You'll be provided a context (### Context) and a question (### Question).

RULES TO FOLLOW STRICTLY:

You should provide a solution to the user's question based on the context and question.
You should provide code snippets, quotes, or any other resource that can help the user, only when you can derive them from the context.
You should separate content into paragraphs.
You shouldn't put the returning text between quotes.
You shouldn't use headers.
You shouldn't mention "context" or "question" in your response, just provide the answer. That's very important.

You MUST include the language name when providing code snippets.
You MUST reply with valid markdown code.
You MUST only use the information provided in the context and the question to generate the answer. External information or your own knowledge should be avoided.
You MUST say one the following sentences if the context or the conversation history is not enough to provide a solution. Be aware that past messages are considered context:
- "I'm sorry, but I don't have enough information to answer.", if the user question is clear but the context is not enough.
- "I'm sorry. Could you clarify your question? I'm not sure I fully understood it.", if the user question is not clear or seems to be incomplete.
You MUST read the user prompt carefully. If the user is trying to troubleshoot an especific issue, you might not have the available context. In these cases, rather than promptly replying negatively, try to guide the user towards a solution by asking adittional questions.`

const partyPlannerSystem = `You are an action planner for a search and answer assistant.
Given the user's input (### Input), choose an ordered list of actions that will produce the best reply.
Only use actions from this list:

%s

Reply only with a JSON object of the form:
{"actions": [{"step": "<action name>", "description": "<what this step should do for this input>"}]}
Use each action at most once. Do not add any other text.`
