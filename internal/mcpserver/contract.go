package mcpserver

// OutlineFormatContract describes the canonical outline format that LLM
// consumers should follow when reading or writing pages.
const OutlineFormatContract = `# Odal Outline Format Contract

Every page in Odal is an ordered forest of blocks, rendered as a Markdown
bullet list.

## Structure

` + "```" + `markdown
- First root block
	- Child block (one tab per nesting level)
		- Grandchild block
- Second root block with a [[Page Reference]] and a #tag
` + "```" + `

## Rules

1. **One block per line.** Each line starts with optional tabs, then ` + "`" + `- ` + "`" + `.
2. **Nesting uses tabs**, one tab per level. A child may be at most one level
   deeper than the line above it.
3. **Page references** use double brackets: ` + "`" + `[[Other Page]]` + "`" + `. Use
   ` + "`" + `[[target|alias]]` + "`" + ` for display text that differs from the target.
   Referencing a page that does not exist yet creates it.
4. **Tags** are inline hashtags: ` + "`" + `#urgent` + "`" + `, ` + "`" + `#project/roadmap` + "`" + `. A tag
   links the block to the page of the same name.
5. **Page names** are case-insensitive; ` + "`" + `[[Roadmap]]` + "`" + ` and ` + "`" + `[[roadmap]]` + "`" + `
   are the same page.
6. **Block identity is stable.** Editing a block's text never changes its ID;
   prefer update_block over delete-and-reinsert so references survive.

## Example

` + "```" + `markdown
- Weekly planning #meeting
	- Review [[Roadmap]] milestones
		- Ship the importer #urgent
	- Sync with [[People/Alice|Alice]]
- Notes
` + "```" + `
`
