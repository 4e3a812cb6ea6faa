// Package richtext converts between lightweight markup and the span model
// carried in envelopes.
//
// Parse reads Markdown-style inline markup with goldmark, restricted to
// paragraphs and the inline constructs a chat message can use:
//
//	**bold**  *italic*  ~~strike~~  `mono`  [text](https://link)
//
// Block syntax (headings, lists, quotes) is not interpreted, so "# 1" or
// "- item" stay literal text. Paragraph breaks become "\n\n" and line
// breaks "\n". Leading and trailing whitespace of a line is not preserved.
//
// Markdown renders spans back to that markup; Parse(Markdown(s)) == s for
// normalized spans whose formatted runs neither begin nor end with
// whitespace and whose neighbours differ in format. Chat renders the inline
// markers used by chat networks (*bold* _italic_ ~strike~ ```mono```).
package richtext
