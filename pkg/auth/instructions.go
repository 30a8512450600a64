package auth

import (
	"fmt"
	"strings"
)

// ShowTokenGuide displays step-by-step instructions for obtaining a bot token
func ShowTokenGuide() {
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("🤖 DISCORD BOT TOKEN GUIDE")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println()

	fmt.Println("This tool logs into Discord as a bot and needs the bot's token.")
	fmt.Println()

	fmt.Println("🛠  STEP 1: Create the application")
	fmt.Println("   - Go to https://discord.com/developers/applications")
	fmt.Println("   - Click 'New Application' and give it a name")
	fmt.Println()

	fmt.Println("🔑 STEP 2: Get the token")
	fmt.Println("   - Open the 'Bot' tab")
	fmt.Println("   - Click 'Reset Token' and copy the value shown")
	fmt.Println("   - The token is shown only once; reset again if you lose it")
	fmt.Println()

	fmt.Println("📡 STEP 3: Enable the message content intent")
	fmt.Println("   - Still on the 'Bot' tab, under 'Privileged Gateway Intents'")
	fmt.Println("   - Turn on 'MESSAGE CONTENT INTENT'")
	fmt.Println("   - Without it the bot sees empty message bodies")
	fmt.Println()

	fmt.Println("📨 STEP 4: Invite the bot to your server")
	fmt.Println("   - Open 'OAuth2' > 'URL Generator'")
	fmt.Println("   - Scopes: bot")
	fmt.Println("   - Permissions: View Channels, Read Message History, Send Messages")
	fmt.Println("   - Open the generated URL and pick your server")
	fmt.Println()

	fmt.Println("⚠️  SECURITY WARNING:")
	fmt.Println("   • The token gives FULL control of the bot")
	fmt.Println("   • NEVER share it or commit it to a repository")
	fmt.Println("   • This tool stores it in your keychain or encrypted on disk")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println()
}

// ShowQuickTokenGuide shows a condensed version for experienced users
func ShowQuickTokenGuide() {
	fmt.Println("\n🔑 Quick guide: discord.com/developers/applications → your app → Bot → Reset Token")
	fmt.Println("   Enable MESSAGE CONTENT INTENT on the same page")
}
