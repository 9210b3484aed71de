package engine

import "github.com/Veraticus/tonometer/internal/conversation"

// Menu entries the user can tap or type.
const (
	ButtonMorning   = "Morning"
	ButtonEvening   = "Evening"
	ButtonYesterday = "yesterday"
	ButtonOtherDay  = "Other day"
	ButtonDownload  = "Download CSV"
)

// Prompts sent back to the user.
const (
	PromptGreeting       = "Hi! I'm a bot. I can help you save your blood pressure."
	PromptRecovery       = "Hm, something went wrong. Try again."
	PromptTimeOfDay      = "Time of measurement?"
	PromptSpecificDate   = "Enter the date in this format: dd.mm.yyyy"
	PromptDone           = "Done"
	PromptStorageFailure = "Sorry, I couldn't access your records. Try again later."
)

// Keyboard is a grid of reply options, one inner slice per row.
type Keyboard [][]string

// MainMenu is the keyboard shown in the home state.
func MainMenu() Keyboard {
	return Keyboard{
		{ButtonMorning, ButtonEvening},
		{ButtonYesterday, ButtonOtherDay},
		{ButtonDownload},
	}
}

// TimeOfDayMenu is the keyboard shown while waiting for Morning or Evening.
func TimeOfDayMenu() Keyboard {
	return Keyboard{{ButtonMorning, ButtonEvening}}
}

// Attachment is a file to deliver alongside a reply.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Reply is everything the gateway needs to answer one turn.
// A nil Keyboard removes any keyboard the client is showing.
// An empty Text with no Attachment means nothing should be sent.
type Reply struct {
	Text       string
	Keyboard   Keyboard
	State      conversation.State
	Attachment *Attachment
}

// IsEmpty reports whether the reply carries nothing to deliver.
func (r Reply) IsEmpty() bool {
	return r.Text == "" && r.Attachment == nil
}
