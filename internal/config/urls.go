package config

// LangSmithDocURLs is the documentation corpus ingested by default.
var LangSmithDocURLs = []string{
	"https://docs.langchain.com/langsmith/home",

	// quickstarts
	"https://docs.langchain.com/langsmith/observability-quickstart",
	"https://docs.langchain.com/langsmith/evaluation-quickstart",
	"https://docs.langchain.com/langsmith/prompt-engineering-quickstart",
	"https://docs.langchain.com/langsmith/quick-start-studio",

	// core features
	"https://docs.langchain.com/langsmith/observability",
	"https://docs.langchain.com/langsmith/evaluation",
	"https://docs.langchain.com/langsmith/prompt-engineering",
	"https://docs.langchain.com/langsmith/deployments",

	// platform & setup
	"https://docs.langchain.com/langsmith/platform-setup",
	"https://docs.langchain.com/langsmith/create-account-api-key",

	"https://docs.langchain.com/langsmith/datasets",
	"https://docs.langchain.com/langsmith/monitoring",
	"https://docs.langchain.com/langsmith/testing",
}
