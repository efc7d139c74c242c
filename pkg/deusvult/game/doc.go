// Package game holds the producers and consumers of the bot's events.
//
// Inbound platform updates reach a Dispatcher, which handles each one in its
// own unit of work. Services subscribe to the bus:
//
//   - ChatsService stores chats announced on chat.added.
//   - PollsService records and sends polls requested on poll.send.
//   - MembershipService greets chats the bot joins and publishes chat.added.
//
// Persistence goes through Store, whose writes run in the transaction of the
// unit of work carried by ctx.
package game
