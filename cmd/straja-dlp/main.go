// straja-dlp inspects chat traffic for sensitive data and decides, per
// configured policy, whether it is forwarded, masked or blocked.
//
// Usage:
//
//	# Serve the HTTP API
//	straja-dlp serve --config straja-dlp.yaml
//
//	# Check a prompt from the command line or stdin
//	straja-dlp scan text --model gpt-4o "my card is 4111 1111 1111 1111"
//	echo "..." | straja-dlp scan text -
//
//	# Check an image and write the masked copy
//	straja-dlp scan image --out masked.png screenshot.png
package main

func main() {
	Execute()
}
