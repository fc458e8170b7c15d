package config

const (
	// TopicDocumentIndex is the NSQ topic for document chunking/embedding tasks.
	TopicDocumentIndex = "document.index"

	// TopicAnswerBatch is the NSQ topic for batch answer-generation jobs.
	TopicAnswerBatch = "answer.batch"
)
