// Package i18n provides locale detection and the localized message catalog
// for every outbound prompt. The catalog is an immutable lookup built once at
// startup and keyed by abstract message ID, never hand-built per call site.
package i18n

import "strings"

const (
	LangEnglish = "en"
	LangArabic  = "ar"
)

// Detect returns "ar" when the text contains any character in the Arabic
// Unicode block, "en" otherwise.
func Detect(text string) string {
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			return LangArabic
		}
	}
	return LangEnglish
}

// MessageID identifies an outbound prompt independent of locale.
type MessageID string

const (
	MsgCancelSuccess       MessageID = "cancel_success"
	MsgStartRequest        MessageID = "start_request"
	MsgChooseExitMethod    MessageID = "choose_exit_method"
	MsgInvalidExitMethod   MessageID = "invalid_exit_method"
	MsgNoBuses             MessageID = "no_buses"
	MsgSelectBus           MessageID = "select_bus"
	MsgInvalidBus          MessageID = "invalid_bus"
	MsgBusFull             MessageID = "bus_full"
	MsgAskRelativeName     MessageID = "ask_relative_name"
	MsgBusConfirmed        MessageID = "bus_confirmed"
	MsgSelfApproved        MessageID = "self_approved"
	MsgRequestSentRelative MessageID = "request_sent_relative"
	MsgNoGuardian          MessageID = "no_guardian"
	MsgGuardianApproved    MessageID = "guardian_approved"
	MsgStudentNotified     MessageID = "student_notified"
	MsgCodeNoRequests      MessageID = "code_no_requests"
	MsgNotLinked           MessageID = "not_linked"
	MsgIntroList           MessageID = "intro_list"
	MsgGuardianCodeSMS     MessageID = "guardian_code_sms"
)

// Catalog maps message IDs to per-locale templates. Placeholders use the
// {name} form and are substituted by Render.
type Catalog struct {
	messages map[string]map[MessageID]string
}

// NewCatalog builds the default English/Arabic catalog.
func NewCatalog() *Catalog {
	return &Catalog{messages: map[string]map[MessageID]string{
		LangEnglish: {
			MsgCancelSuccess:       "✅ Your request has been cancelled.",
			MsgStartRequest:        "Send 'request exit' to start. You can cancel anytime by sending 'cancel'.",
			MsgChooseExitMethod:    "How will you exit?\n1. With a friend or relative\n2. Take a bus\n3. On your own",
			MsgInvalidExitMethod:   "Invalid choice. Reply with 1, 2, or 3.",
			MsgNoBuses:             "❌ No buses available currently.",
			MsgSelectBus:           "Select your bus:\n{buses}",
			MsgInvalidBus:          "Invalid selection. Choose a valid bus number or name.",
			MsgBusFull:             "❌ That bus has just filled up. Choose another option.",
			MsgAskRelativeName:     "Who will you exit with? Reply with their name.",
			MsgBusConfirmed:        "✅ Your bus seat is confirmed. You may exit at departure time.",
			MsgSelfApproved:        "✅ Exit request approved. You may exit on your own.",
			MsgRequestSentRelative: "Request to exit with {name} sent to your guardian.",
			MsgNoGuardian:          "⚠️ No guardian linked to your account. Contact the administration.",
			MsgGuardianApproved:    "✅ Exit request approved.",
			MsgStudentNotified:     "✅ Your guardian has approved your exit request.",
			MsgCodeNoRequests:      "⚠️ Code matched, but no pending requests found to approve.",
			MsgNotLinked:           "👋 Hello! This is the GatePass system.\n\nYou are not currently linked to any students. Please contact the university.",
			MsgIntroList:           "👋 Hello! This is the GatePass system.\n\nYou're currently linked to the following student(s):\n{students}\n\n✅ When any of them makes an exit request, you'll receive an approval message with a code.\n❌ Your message didn't match a valid approval code, and there are no pending requests right now.\nFeel free to reply again later!",
			MsgGuardianCodeSMS:     "Exit request from {student}{relative}. Approval code: {code}\n\nOpen the chat to approve: https://wa.me/{bot}?text={code}",
		},
		LangArabic: {
			MsgCancelSuccess:       "✅ تم إلغاء طلبك.",
			MsgStartRequest:        "أرسل 'طلب خروج' للبدء. يمكنك الإلغاء في أي وقت بكتابة 'cancel'.",
			MsgChooseExitMethod:    "كيف ستخرج؟\n1. مع صديق أو قريب\n2. الحافلة\n3. بمفردك",
			MsgInvalidExitMethod:   "❌ اختيار غير صالح. أرسل 1 أو 2 أو 3.",
			MsgNoBuses:             "❌ لا توجد حافلات متاحة حالياً.",
			MsgSelectBus:           "اختر الحافلة:\n{buses}",
			MsgInvalidBus:          "❌ اختيار غير صالح. أرسل رقم أو اسم الحافلة.",
			MsgBusFull:             "❌ امتلأت هذه الحافلة للتو. اختر خياراً آخر.",
			MsgAskRelativeName:     "مع من ستخرج؟ أرسل الاسم.",
			MsgBusConfirmed:        "✅ تم تأكيد مقعدك في الحافلة.",
			MsgSelfApproved:        "✅ تمت الموافقة على الخروج. يمكنك الخروج بمفردك.",
			MsgRequestSentRelative: "تم إرسال طلب الخروج مع {name} إلى ولي أمرك.",
			MsgNoGuardian:          "⚠️ لا يوجد ولي أمر مرتبط. تواصل مع الإدارة.",
			MsgGuardianApproved:    "✅ تم الموافقة على الخروج.",
			MsgStudentNotified:     "✅ تمت الموافقة على طلبك من قبل ولي الأمر.",
			MsgCodeNoRequests:      "⚠️ الرمز صحيح، لكن لا توجد طلبات معلقة.",
			MsgNotLinked:           "👋 مرحباً! هذا نظام GatePass.\n\nأنت غير مرتبط بأي طالب حالياً. الرجاء التواصل مع الجامعة.",
			MsgIntroList:           "👋 مرحباً! هذا نظام GatePass.\n\nأنت مرتبط بالطلاب التاليين:\n{students}\n\n✅ عند تقديم أحدهم طلب خروج، ستتلقى رمز الموافقة.\n❌ لا توجد طلبات حالياً، والرسالة لم تطابق رمزاً صحيحاً.\nيمكنك المحاولة لاحقاً.",
			MsgGuardianCodeSMS:     "طلب خروج من {student}{relative}، رمز الموافقة: {code}\n\nاضغط هنا لفتح المحادثة: https://wa.me/{bot}?text={code}",
		},
	}}
}

// Render looks up the template for id in lang (falling back to English, then
// to the raw id) and substitutes {key} placeholders from args.
func (c *Catalog) Render(id MessageID, lang string, args map[string]string) string {
	locale, ok := c.messages[lang]
	if !ok {
		locale = c.messages[LangEnglish]
	}
	msg, ok := locale[id]
	if !ok {
		if msg, ok = c.messages[LangEnglish][id]; !ok {
			return string(id)
		}
	}

	for key, value := range args {
		msg = strings.ReplaceAll(msg, "{"+key+"}", value)
	}
	return msg
}
