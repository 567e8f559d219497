package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asheshgoplani/termbot/internal/tmux"
)

// PanelText is the body of the control panel message. Telegram rejects
// empty messages, so it is a Hangul filler that renders blank.
const PanelText = "ㅤ"

const (
	callbackConnect = "connect:"
	callbackKey     = "key:"

	keyToggleMode  = "toggle_mode"
	keyDoubleCtrlC = "ctrl_cc"
)

// specialKeys maps panel button names to tmux key names.
var specialKeys = map[string]string{
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"enter":     "Enter",
	"backspace": "BSpace",
	"ctrl_c":    "C-c",
	"tab":       "Tab",
	"shift_tab": "BTab",
	"esc":       "Escape",
}

func keyButton(label, name string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, callbackKey+name)
}

// KeysKeyboard builds the control panel. The last button shows and toggles
// the input mode.
func KeysKeyboard(autoEnter bool) tgbotapi.InlineKeyboardMarkup {
	mode := "Wait"
	if autoEnter {
		mode = "Auto"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			keyButton("⬅️", "left"),
			keyButton("⬆️", "up"),
			keyButton("⬇️", "down"),
			keyButton("➡️", "right"),
			keyButton("⌫", "backspace"),
			keyButton("⏎", "enter"),
		),
		tgbotapi.NewInlineKeyboardRow(
			keyButton("Tab", "tab"),
			keyButton("⇧Tab", "shift_tab"),
			keyButton("Esc", "esc"),
			keyButton("^C", "ctrl_c"),
			keyButton("^C^C", keyDoubleCtrlC),
			keyButton(mode, keyToggleMode),
		),
	)
}

// PanesKeyboard offers one button per pane for /connect.
func PanesKeyboard(panes []tmux.PaneInfo) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(panes))
	for _, p := range panes {
		label := fmt.Sprintf("%s (%s)", p.Identifier(), p.WindowName)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackConnect+p.Identifier()),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
