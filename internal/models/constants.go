package models

const (
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	HumanPrefix = "Human"
	AIPrefix    = "AI"
)

var (
	// QAPromptTemplate takes the retrieved context, the chat history buffer and the question.
	QAPromptTemplate = `Use the following pieces of context and the conversation so far to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

<context>
%s
</context>

<chat_history>
%s
</chat_history>

Question: %s
Helpful Answer:`

	// CondensePromptTemplate takes the chat history buffer and a follow up question.
	CondensePromptTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
%s
Follow Up Input: %s
Standalone question:`
)
