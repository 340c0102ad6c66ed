package bot

import (
	"fmt"
	"strconv"

	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/service/booking"
)

const (
	replyInitFailed      = "Failed to initialize chat"
	replyNoWallet        = "No wallet has been created for this chat yet. Use /start to create one."
	replyNoAppID         = "No Nillion ID found for this chat."
	replyKeyFailed       = "Failed to retrieve the private key."
	replyNoHistory       = "No chat history found for this chat."
	replyHistoryFailed   = "Failed to generate chat history payload."
	replyAgentDown       = "The booking assistant is unavailable right now. Please try again later."
	replyBookingPending  = "Still missing some booking details. Keep planning and send /sendhistory again."
	replyBookingSaveFail = "Failed to store/retrieve data"
	replyBookUsage       = "Please provide booking details in this format:\n" +
		"`/book location=<Location> nights=<Number> budget=<Amount> dates=<Start Date>-<End Date>`"
)

func replyInitialized(chatID string) string {
	return "Chat initialized with ID: " + chatID
}

func replyPrivateKey(key string) string {
	return "The private key for this chat is:\n" + key
}

func replyFundingComplete(chatID string) string {
	return "funding complete for chat " + chatID
}

func replyHistoryExport(payload []byte) string {
	return "Chat history exported:\n```\n" + string(payload) + "\n```"
}

func replyBookingSummary(args booking.BookArgs) string {
	return "Booking details:\n" +
		"- Location: " + args.Location + "\n" +
		"- Nights: " + strconv.Itoa(args.Nights) + "\n" +
		"- Budget: $" + strconv.FormatFloat(args.Budget, 'f', -1, 64) + "\n" +
		"- Dates: " + args.Dates + "\n" +
		"Please respond with ✅ if you agree to this trip."
}

func replyBookingCaptured(req *chat.BookingRequest) string {
	if req == nil {
		return "Booking request captured."
	}
	msg := "Booking request captured:\n- Location: " + req.Location
	if req.GuestCount > 0 {
		msg += fmt.Sprintf("\n- Guests: %d", req.GuestCount)
	}
	if req.RoomCount > 0 {
		msg += fmt.Sprintf("\n- Rooms: %d", req.RoomCount)
	}
	if req.BudgetPerPerson > 0 {
		msg += "\n- Budget per person: " + strconv.FormatFloat(req.BudgetPerPerson, 'f', -1, 64)
		if req.Currency != "" {
			msg += " " + req.Currency
		}
	}
	return msg
}
