package blog

import "time"

const (
	seedAuthorID = "1"
	seedPostID   = "1"
)

func defaultAuthors(now time.Time) []Author {
	return []Author{
		{
			ID:        seedAuthorID,
			Name:      "MustardTree Team",
			Bio:       "The expert team at MustardTree Partners, providing insights on governance, compliance, and business intelligence.",
			Email:     "info@mustardtreegroup.com",
			Position:  "Editorial Team",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

const seedContent = `# Understanding Modern Corporate Governance

Corporate governance has evolved significantly in recent years, driven by regulatory changes, stakeholder expectations, and technological advances.

## Key Principles

1. **Transparency and Disclosure**
   - Regular and accurate reporting
   - Clear communication with stakeholders
   - Open decision-making processes

2. **Accountability and Responsibility**
   - Clear roles and responsibilities
   - Performance monitoring and evaluation
   - Risk management frameworks

3. **Fairness and Ethics**
   - Equal treatment of stakeholders
   - Ethical business practices
   - Conflict of interest management

## Best Practices

Modern corporate governance requires a holistic approach that balances the interests of all stakeholders while ensuring sustainable business growth.

### Board Composition
- Diverse skills and experience
- Independent directors
- Regular evaluation and refreshment

### Risk Management
- Comprehensive risk assessment
- Clear risk appetite statements
- Regular monitoring and reporting

## Conclusion

Effective corporate governance is not just about compliance. It is about creating sustainable value for all stakeholders.
`

func defaultPosts(now time.Time) []Post {
	published := now
	return []Post{
		{
			ID:       seedPostID,
			Title:    "Understanding Modern Corporate Governance",
			Slug:     "understanding-modern-corporate-governance",
			Excerpt:  "Explore the key principles and best practices of corporate governance in today's business environment.",
			Content:  seedContent,
			AuthorID: seedAuthorID,
			Status:   StatusPublished,
			Category: "Corporate Governance",
			Tags:     []string{"Governance", "Compliance", "Best Practices"},
			SEO: SEO{
				MetaTitle:       "Understanding Modern Corporate Governance | MustardTree Partners",
				MetaDescription: "Explore key principles and best practices of corporate governance in today's business environment with expert insights from MustardTree Partners.",
				Keywords:        []string{"corporate governance", "business compliance", "stakeholder management", "board governance"},
			},
			ReadingTime: 5,
			CreatedAt:   now,
			UpdatedAt:   now,
			PublishedAt: &published,
		},
	}
}
