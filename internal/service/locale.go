package service

// placeholderSet holds the locale-specific strings the transport client can
// emit locally: the typing placeholders shown while a request is in flight,
// and the canned fallback replies used when the webhook answer is
// non-substantive.
type placeholderSet struct {
	Thinking   string
	Working    string
	Processing string
	Analyzing  string
	NoResponse string

	CalculationLabel string
	CalculationError string
	NextNumber       string // fmt: current, next
	Greeting         string
	Thanks           string
	Capabilities     string
	Acknowledgment   string
}

func (p placeholderSet) typing() []string {
	return []string{p.Thinking, p.Working, p.Processing, p.Analyzing}
}

var locales = map[string]placeholderSet{
	"en": {
		Thinking:   "I'm thinking about this...",
		Working:    "Working on your question...",
		Processing: "Processing your request...",
		Analyzing:  "Let me analyze that...",
		NoResponse: "No response content",

		CalculationLabel: "🧮 Calculation Result",
		CalculationError: "I'm having trouble calculating that right now. Please try again.",
		NextNumber:       "The next number after %d is %d.",
		Greeting:         "Hello! How can I help you today?",
		Thanks:           "You're welcome! Is there anything else I can help you with?",
		Capabilities:     "I can help with answering questions, writing content, explaining concepts, and much more. What would you like assistance with?",
		Acknowledgment:   "I understand your question. Let me provide a helpful response based on what I know. If this doesn't fully address your question, please feel free to ask for more details.",
	},
	"ar": {
		Thinking:   "أنا أفكر في هذا...",
		Working:    "أعمل على سؤالك...",
		Processing: "جاري معالجة طلبك...",
		Analyzing:  "دعني أحلل ذلك...",
		NoResponse: "لا يوجد محتوى للرد",

		CalculationLabel: "🧮 نتيجة الحساب",
		CalculationError: "أواجه صعوبة في حساب ذلك الآن. يرجى المحاولة مرة أخرى.",
		NextNumber:       "الرقم التالي بعد %d هو %d.",
		Greeting:         "مرحباً! كيف يمكنني مساعدتك اليوم؟",
		Thanks:           "على الرحب والسعة! هل هناك أي شيء آخر يمكنني مساعدتك به؟",
		Capabilities:     "يمكنني المساعدة في الإجابة على الأسئلة، وكتابة المحتوى، وشرح المفاهيم، والكثير غير ذلك. بماذا ترغب في المساعدة؟",
		Acknowledgment:   "أفهم سؤالك. دعني أقدم إجابة مفيدة بناءً على ما أعرفه. إذا لم تكن هذه الإجابة كافية، فلا تتردد في طلب المزيد من التفاصيل.",
	},
}

func placeholdersFor(lang string) placeholderSet {
	if p, ok := locales[lang]; ok {
		return p
	}
	return locales["en"]
}
