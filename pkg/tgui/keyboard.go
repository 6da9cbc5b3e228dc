package tgui

import tele "gopkg.in/telebot.v4"

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{rm: &tele.ReplyMarkup{}} }

func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn is a callback button. Unique is what telebot routes on.
func Btn(text, unique, data string) tele.Btn {
	return tele.Btn{Text: text, Unique: unique, Data: data}
}

func URLBtn(text, url string) tele.Btn { return tele.Btn{Text: text, URL: url} }
